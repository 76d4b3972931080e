// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with optional fields so the YAML file only
// overrides what it actually sets.
type fileConfig struct {
	Listen      *string `yaml:"listen"`
	MetricsAddr *string `yaml:"metricsAddr"`
	LogLevel    *string `yaml:"logLevel"`
	DataDir     *string `yaml:"dataDir"`

	Event        *string        `yaml:"event"`
	Username     *string        `yaml:"username"`
	Password     *string        `yaml:"password"`
	OverrideCode *string        `yaml:"overrideCode"`
	TokenTTL     *time.Duration `yaml:"tokenTTL"`

	Limits *struct {
		Cards  *int `yaml:"cards"`
		Videos *int `yaml:"videos"`
		Prints *int `yaml:"prints"`
	} `yaml:"limits"`

	Capacity *struct {
		Initial     *int           `yaml:"initial"`
		Ceiling     *int           `yaml:"ceiling"`
		SuccessStep *int           `yaml:"successStep"`
		StaleAfter  *time.Duration `yaml:"staleAfter"`
		SweepEvery  *time.Duration `yaml:"sweepEvery"`
	} `yaml:"capacity"`

	Queue *struct {
		Backend    *string        `yaml:"backend"`
		Name       *string        `yaml:"name"`
		URL        *string        `yaml:"url"`
		Visibility *time.Duration `yaml:"visibility"`
		Wait       *time.Duration `yaml:"wait"`
		Batch      *int           `yaml:"batch"`
		RedisAddr  *string        `yaml:"redisAddr"`
		RedisDB    *int           `yaml:"redisDB"`
	} `yaml:"queue"`

	Store *struct {
		Backend *string `yaml:"backend"`
		Path    *string `yaml:"path"`
	} `yaml:"store"`

	Objects *struct {
		Backend   *string        `yaml:"backend"`
		Bucket    *string        `yaml:"bucket"`
		Region    *string        `yaml:"region"`
		Endpoint  *string        `yaml:"endpoint"`
		PathStyle *bool          `yaml:"pathStyle"`
		Presign   *time.Duration `yaml:"presignTTL"`
	} `yaml:"objects"`

	Models *struct {
		BedrockRegion  *string `yaml:"bedrockRegion"`
		ImageModelID   *string `yaml:"imageModelID"`
		VideoModelID   *string `yaml:"videoModelID"`
		VideoOutputURI *string `yaml:"videoOutputURI"`
	} `yaml:"models"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	setString(&cfg.Listen, fc.Listen)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.DataDir, fc.DataDir)

	setString(&cfg.Event, fc.Event)
	setString(&cfg.Username, fc.Username)
	setString(&cfg.Password, fc.Password)
	setString(&cfg.OverrideCode, fc.OverrideCode)
	setDuration(&cfg.TokenTTL, fc.TokenTTL)

	if fc.Limits != nil {
		setInt(&cfg.LimitCards, fc.Limits.Cards)
		setInt(&cfg.LimitVideos, fc.Limits.Videos)
		setInt(&cfg.LimitPrints, fc.Limits.Prints)
	}
	if fc.Capacity != nil {
		setInt(&cfg.CapacityInitial, fc.Capacity.Initial)
		setInt(&cfg.CapacityCeiling, fc.Capacity.Ceiling)
		setInt(&cfg.CapacitySuccessStep, fc.Capacity.SuccessStep)
		setDuration(&cfg.CapacityStaleAfter, fc.Capacity.StaleAfter)
		setDuration(&cfg.CapacitySweepEvery, fc.Capacity.SweepEvery)
	}
	if fc.Queue != nil {
		setString(&cfg.QueueBackend, fc.Queue.Backend)
		setString(&cfg.QueueName, fc.Queue.Name)
		setString(&cfg.QueueURL, fc.Queue.URL)
		setDuration(&cfg.QueueVisibility, fc.Queue.Visibility)
		setDuration(&cfg.QueueWaitTime, fc.Queue.Wait)
		setInt(&cfg.QueueBatchSize, fc.Queue.Batch)
		setString(&cfg.RedisAddr, fc.Queue.RedisAddr)
		setInt(&cfg.RedisDB, fc.Queue.RedisDB)
	}
	if fc.Store != nil {
		setString(&cfg.StoreBackend, fc.Store.Backend)
		setString(&cfg.StorePath, fc.Store.Path)
	}
	if fc.Objects != nil {
		setString(&cfg.ObjectBackend, fc.Objects.Backend)
		setString(&cfg.S3Bucket, fc.Objects.Bucket)
		setString(&cfg.S3Region, fc.Objects.Region)
		setString(&cfg.S3Endpoint, fc.Objects.Endpoint)
		setBool(&cfg.S3PathStyle, fc.Objects.PathStyle)
		setDuration(&cfg.PresignTTL, fc.Objects.Presign)
	}
	if fc.Models != nil {
		setString(&cfg.BedrockRegion, fc.Models.BedrockRegion)
		setString(&cfg.ImageModelID, fc.Models.ImageModelID)
		setString(&cfg.VideoModelID, fc.Models.VideoModelID)
		setString(&cfg.VideoOutputURI, fc.Models.VideoOutputURI)
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if len(fc.TrustedProxies) > 0 {
		cfg.TrustedProxies = fc.TrustedProxies
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *time.Duration) {
	if src != nil {
		*dst = *src
	}
}
