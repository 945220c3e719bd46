package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeLogging()
	if err := c.normalizeFeeds(); err != nil {
		return err
	}
	c.normalizeViews()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("SKEIN_FEED_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.FeedDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.FeedDir) == "" {
		c.Paths.FeedDir = defaultFeedDir
	}
	var err error
	if c.Paths.FeedDir, err = expandPath(c.Paths.FeedDir); err != nil {
		return fmt.Errorf("paths.feed_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.JournalPath) == "" {
		c.Paths.JournalPath = defaultJournalPath
	}
	if c.Paths.JournalPath, err = expandPath(c.Paths.JournalPath); err != nil {
		return fmt.Errorf("paths.journal_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() {
	c.Worker.Mode = strings.ToLower(strings.TrimSpace(c.Worker.Mode))
	if c.Worker.Mode == "" {
		c.Worker.Mode = defaultWorkerMode
	}
	if c.Worker.PollIntervalMS == 0 {
		c.Worker.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Worker.ReceiveTimeoutMS == 0 {
		c.Worker.ReceiveTimeoutMS = defaultReceiveTimeoutMS
	}
	if c.Worker.SyncAttempts == 0 {
		c.Worker.SyncAttempts = defaultSyncAttempts
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeFeeds() error {
	for i := range c.Feeds {
		feed := &c.Feeds[i]
		feed.URL = strings.TrimSpace(feed.URL)
		feed.HardFilter = strings.TrimSpace(feed.HardFilter)
		if feed.Rate == 0 {
			feed.Rate = c.Defaults.Rate
		}
		if feed.Keep == 0 {
			feed.Keep = c.Defaults.Keep
		}
		if len(feed.Tags) == 0 {
			feed.Tags = []string{""}
		}
		for j, tag := range feed.Tags {
			feed.Tags[j] = strings.TrimSpace(tag)
		}
		if strings.TrimSpace(feed.Path) == "" {
			feed.Path = c.SnapshotPath(feed.URL)
			continue
		}
		var err error
		if feed.Path, err = expandPath(feed.Path); err != nil {
			return fmt.Errorf("feeds[%d].path: %w", i, err)
		}
	}
	return nil
}

func (c *Config) normalizeViews() {
	for i := range c.Filters {
		c.Filters[i].Name = strings.TrimSpace(c.Filters[i].Name)
		c.Filters[i].Field = strings.ToLower(strings.TrimSpace(c.Filters[i].Field))
		if c.Filters[i].Field == "" && len(c.Filters[i].Includes)+len(c.Filters[i].Excludes) > 0 {
			c.Filters[i].Field = "title"
		}
	}
	for i := range c.Sorts {
		c.Sorts[i].Name = strings.TrimSpace(c.Sorts[i].Name)
		c.Sorts[i].Kind = strings.ToLower(strings.TrimSpace(c.Sorts[i].Kind))
	}
	for i := range c.Tags {
		c.Tags[i].Name = strings.TrimSpace(c.Tags[i].Name)
	}
	if len(c.GlobalFilters) == 0 {
		c.GlobalFilters = []string{"none"}
	}
}
