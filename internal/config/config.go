// Package config loads and validates the pipeline file that lists the
// datasets to process.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Pipeline is the top-level configuration of one run.
type Pipeline struct {
	Job         string        `mapstructure:"job" yaml:"job"`
	StagingPath string        `mapstructure:"staging_path" yaml:"staging_path"`
	Runtime     RuntimeConfig `mapstructure:"runtime" yaml:"runtime"`
	Source      Source        `mapstructure:"source" yaml:"source"`
	Destination Destination   `mapstructure:"destination" yaml:"destination"`
	Manifest    Manifest      `mapstructure:"manifest" yaml:"manifest"`
	Datasets    []Dataset     `mapstructure:"datasets" yaml:"datasets"`
}

// RuntimeConfig controls pipeline execution behavior.
type RuntimeConfig struct {
	// Workers bounds how many datasets are processed at once.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// HTTPTimeoutSec and HTTPRetries apply to http(s) file locations.
	HTTPTimeoutSec int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	HTTPRetries    int `mapstructure:"http_retries" yaml:"http_retries"`
}

// Source holds settings shared by remote file locations.
type Source struct {
	// Region is the AWS region used for s3:// locations.
	Region string `mapstructure:"region" yaml:"region"`
}

// Destination says where finished artifacts go after staging.
type Destination struct {
	// Kind is "local" (staging only) or "s3".
	Kind   string `mapstructure:"kind" yaml:"kind"`
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// Manifest selects the SQL backend that records published artifacts.
type Manifest struct {
	// Kind is "sqlite", "postgres", "mssql" or "" (disabled).
	Kind  string `mapstructure:"kind" yaml:"kind,omitempty"`
	DSN   string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Table string `mapstructure:"table" yaml:"table,omitempty"`
}

// Dataset describes one output artifact and how to build it.
type Dataset struct {
	Name  string     `mapstructure:"name" yaml:"name"`
	Files []FileSpec `mapstructure:"files" yaml:"files"`
	// Transform names a registered transform; empty passes the single input
	// through unchanged.
	Transform    string            `mapstructure:"transform" yaml:"transform,omitempty"`
	Params       map[string]any    `mapstructure:"params" yaml:"params,omitempty"`
	ColumnRename map[string]string `mapstructure:"column_rename" yaml:"column_rename,omitempty"`
	HTMLColumns  []string          `mapstructure:"html_columns" yaml:"html_columns,omitempty"`
	// FinalFormat is "json" (default) or "csv".
	FinalFormat string  `mapstructure:"final_format" yaml:"final_format,omitempty"`
	Quality     Quality `mapstructure:"quality" yaml:"quality,omitempty"`
}

// FileSpec is one input file; Name is the role the transform sees.
type FileSpec struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Location string `mapstructure:"location" yaml:"location"`
	// Format is "csv", "tsv", "json" or "feather".
	Format  string  `mapstructure:"format" yaml:"format"`
	Options Options `mapstructure:"options" yaml:"options,omitempty"`
}

// Quality lists the data-quality rules checked before publishing.
type Quality struct {
	Rules []Rule `mapstructure:"rules" yaml:"rules,omitempty"`
}

// Rule is one data-quality expectation.
type Rule struct {
	// Kind is columns_present, not_null, unique, in_set or between.
	Kind    string   `mapstructure:"kind" yaml:"kind"`
	Column  string   `mapstructure:"column" yaml:"column,omitempty"`
	Columns []string `mapstructure:"columns" yaml:"columns,omitempty"`
	Values  []string `mapstructure:"values" yaml:"values,omitempty"`
	Min     *float64 `mapstructure:"min" yaml:"min,omitempty"`
	Max     *float64 `mapstructure:"max" yaml:"max,omitempty"`
}

// EnvPrefix prefixes environment overrides, e.g. AGORAETL_STAGING_PATH or
// AGORAETL_MANIFEST_DSN.
const EnvPrefix = "AGORAETL"

// Load reads the pipeline file at path (YAML or JSON by extension) and
// applies environment overrides and defaults.
// Precedence: env > config file > defaults.
func Load(path string) (*Pipeline, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("job", "agora")
	v.SetDefault("staging_path", "./staging")
	v.SetDefault("runtime.workers", 1)
	v.SetDefault("runtime.http_timeout_sec", 60)
	v.SetDefault("runtime.http_retries", 3)
	v.SetDefault("source.region", "us-east-1")
	v.SetDefault("destination.kind", "local")
	v.SetDefault("destination.bucket", "")
	v.SetDefault("destination.prefix", "")
	v.SetDefault("manifest.kind", "")
	v.SetDefault("manifest.dsn", "")
	v.SetDefault("manifest.table", "artifact_manifest")

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var p Pipeline
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	p.Manifest.DSN = os.ExpandEnv(p.Manifest.DSN)
	for i := range p.Datasets {
		d := &p.Datasets[i]
		if d.FinalFormat == "" {
			d.FinalFormat = "json"
		}
		for j := range d.Files {
			d.Files[j].Location = os.ExpandEnv(d.Files[j].Location)
		}
	}
	return &p, nil
}

// Render returns the effective configuration as YAML.
func Render(p *Pipeline) ([]byte, error) {
	b, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return b, nil
}

// Dataset returns the named dataset.
func (p *Pipeline) Dataset(name string) (Dataset, bool) {
	for _, d := range p.Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}
