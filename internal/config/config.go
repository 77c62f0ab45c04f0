// Package config holds the compiled-in configuration for kiln. Paths, ports,
// and collection names are fixed constants by design: the tool has no flags,
// no environment variables, and no config file. The defaults are registered in
// a private Viper instance and unmarshaled into a typed struct so components
// share one materialized view of them.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Site   SiteConfig   `mapstructure:"site"`
	Server ServerConfig `mapstructure:"server"`
	Reload ReloadConfig `mapstructure:"reload"`
	Watch  WatchConfig  `mapstructure:"watch"`
}

// SiteConfig describes the source and output trees.
type SiteConfig struct {
	ContentDir   string   `mapstructure:"content_dir"`
	TemplateDir  string   `mapstructure:"template_dir"`
	OutputDir    string   `mapstructure:"output_dir"`
	Collections  []string `mapstructure:"collections"`
	Title        string   `mapstructure:"title"`
	IndexPage    string   `mapstructure:"index_page"`
	NotFoundPage string   `mapstructure:"not_found_page"`
}

// ServerConfig describes the HTTP origin server.
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// ReloadConfig describes the WebSocket reload channel. It binds its own port,
// distinct from the origin server, so origin restarts leave open reload
// connections alone.
type ReloadConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// WatchConfig describes the content poller.
type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load materializes the compiled-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("site.content_dir", "content")
	v.SetDefault("site.template_dir", "templates")
	v.SetDefault("site.output_dir", "output")
	v.SetDefault("site.collections", []string{"pages", "projects"})
	v.SetDefault("site.title", "My Site")
	v.SetDefault("site.index_page", "pages/index.html")
	v.SetDefault("site.not_found_page", "pages/404.html")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7878)
	v.SetDefault("server.shutdown_grace", time.Second)

	v.SetDefault("reload.host", "127.0.0.1")
	v.SetDefault("reload.port", 7879)

	v.SetDefault("watch.interval", 2*time.Second)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
