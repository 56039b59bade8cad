// Package site holds the marketing content for the storefront pages. The
// values live in a YAML file next to the binary so copy changes don't require
// a rebuild.
package site

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the brand and contest copy rendered into every page shell.
type Config struct {
	BrandName       string `yaml:"brand_name"`
	DesignerName    string `yaml:"designer_name"`
	Initials        string `yaml:"initials"`
	ContestName     string `yaml:"contest_name"`
	ContestFinalist string `yaml:"contest_finalist"`
	Location        string `yaml:"location"`
	Email           string `yaml:"email"`
	Phone           string `yaml:"phone"`
	InstagramHandle string `yaml:"instagram_handle"`
	InstagramURL    string `yaml:"instagram_url"`
	FacebookURL     string `yaml:"facebook_url"`
	TikTokURL       string `yaml:"tiktok_url"`
	Profession      string `yaml:"profession"`
	Slogan          string `yaml:"slogan"`
	Description     string `yaml:"description"`
	MetaTitle       string `yaml:"meta_title"`
	MetaDescription string `yaml:"meta_description"`
	Copyright       string `yaml:"copyright"`
}

// Default returns placeholder content used when no site.yaml is present.
func Default() Config {
	return Config{
		BrandName:       "HL Korut",
		DesignerName:    "Heli Lampi",
		Initials:        "HL",
		ContestName:     "Vuoden Koru 2026",
		ContestFinalist: "Finalisti",
		Location:        "Oulu, Finland",
		Profession:      "Jalometallialan artesaani",
		Slogan:          "Muotoilu, joka puhuttelee. Käsityö, joka kestää.",
		MetaTitle:       "Heli Lampi | Vuoden Koru 2026 Finalisti",
		Copyright:       "© 2025 HL Korut. All rights reserved.",
	}
}

// Load reads the site content from path. A missing file is not an error, the
// defaults are returned instead.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read site config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse site config: %w", err)
	}

	return cfg, nil
}
