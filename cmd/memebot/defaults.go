package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Remote meme API
	viper.SetDefault("api.base_url", "http://127.0.0.1:2233")
	viper.SetDefault("api.request_timeout", 20*time.Second)

	// OneBot connection
	viper.SetDefault("onebot.ws_url", "ws://127.0.0.1:3001")
	viper.SetDefault("onebot.http_url", "http://127.0.0.1:3000")
	viper.SetDefault("onebot.access_token", "")
	viper.SetDefault("onebot.bot_name", "memebot")

	// Command matching
	viper.SetDefault("command.prefix", "-")
	viper.SetDefault("command.fuzzy_match", true)
	viper.SetDefault("command.use_sender_avatar", true)

	// Interactive sessions
	viper.SetDefault("interactive.enabled", true)
	viper.SetDefault("interactive.timeout", 60*time.Second)
	viper.SetDefault("interactive.recall_prompts", false)
	viper.SetDefault("interactive.reprompt_enabled", true)
	viper.SetDefault("interactive.reprompt_threshold", 2)

	// Multi-image delivery
	viper.SetDefault("multi_image.direct_send_threshold", 3)
	viper.SetDefault("multi_image.forward_enabled", true)
	viper.SetDefault("multi_image.zip_enabled", true)
	viper.SetDefault("multi_image.zip_threshold", 20)
	viper.SetDefault("multi_image.zip_use_base64", false)

	// List image badges
	viper.SetDefault("labels.new_days", 7)
	viper.SetDefault("labels.hot_days", 7)
	viper.SetDefault("labels.hot_threshold", 21)

	// Search pagination
	viper.SetDefault("search.page_size", 8)
	viper.SetDefault("search.timeout", 30*time.Second)

	// Permissions
	viper.SetDefault("superusers", []string{})
	viper.SetDefault("perms", map[string]string{
		"refresh_memes":       "管理员",
		"disable_meme":        "管理员",
		"enable_meme":         "管理员",
		"manager_list":        "管理员",
		"global_disable_meme": "超管",
		"global_enable_meme":  "超管",
		"group_admin_manager": "群主",
	})

	// Storage
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.sqlite.busy_timeout_ms", 5000)
	viper.SetDefault("db.sqlite.wal", true)
	viper.SetDefault("db.sqlite.foreign_keys", true)

	// Logging
	viper.SetDefault("logging.format", "text")
}
