package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Server.APIBind = strings.TrimSpace(c.Server.APIBind)
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	c.Server.UploadURL = strings.TrimRight(strings.TrimSpace(c.Server.UploadURL), "/")

	c.Speech.BaseURL = strings.TrimRight(strings.TrimSpace(c.Speech.BaseURL), "/")
	c.Speech.APIKey = strings.TrimSpace(c.Speech.APIKey)
	c.Speech.Model = strings.TrimSpace(c.Speech.Model)

	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)

	c.Email.Endpoint = strings.TrimSpace(c.Email.Endpoint)
	c.Email.APIKey = strings.TrimSpace(c.Email.APIKey)
	c.Email.From = strings.TrimSpace(c.Email.From)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}

	return nil
}
