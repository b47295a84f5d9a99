package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"memebot/internal/argparse"
	"memebot/internal/catalog"
	"memebot/internal/delivery"
	"memebot/internal/dispatch"
	"memebot/internal/handlers"
	"memebot/internal/logutil"
	"memebot/internal/memeapi"
	"memebot/internal/perm"
	"memebot/internal/platform"
	"memebot/internal/session"
	"memebot/internal/store"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the OneBot endpoint and serve meme commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(logger)
			if err != nil {
				return err
			}
			defer st.Close()

			api := memeapi.NewClient(
				viper.GetString("api.base_url"),
				viper.GetDuration("api.request_timeout"),
				logger,
			)

			bot, err := platform.NewOneBot(platform.OneBotOptions{
				WSURL:       viper.GetString("onebot.ws_url"),
				HTTPURL:     viper.GetString("onebot.http_url"),
				AccessToken: viper.GetString("onebot.access_token"),
				BotName:     viper.GetString("onebot.bot_name"),
				FileBase64:  viper.GetBool("multi_image.zip_use_base64"),
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			cat := catalog.New(logger)
			go func() {
				memes, shortcuts, err := cat.Refresh(ctx, api)
				if err != nil {
					logger.Error("catalog_initial_refresh_failed", "error", err)
					return
				}
				logger.Info("catalog_loaded", "memes", memes, "shortcuts", shortcuts)
			}()

			resolver := &argparse.Resolver{
				Fetch:           api.DownloadImage,
				AvatarURL:       bot.AvatarURL,
				UseSenderAvatar: viper.GetBool("command.use_sender_avatar"),
				Logger:          logger,
			}

			checker := perm.NewChecker(perm.Options{
				Superusers: viper.GetStringSlice("superusers"),
				PermLevels: viper.GetStringMapString("perms"),
				Roles:      bot,
				Admins:     st,
				Logger:     logger,
			})

			planner := delivery.NewPlanner(delivery.Options{
				DirectSendThreshold: viper.GetInt("multi_image.direct_send_threshold"),
				ForwardEnabled:      viper.GetBool("multi_image.forward_enabled"),
				ZipEnabled:          viper.GetBool("multi_image.zip_enabled"),
				ZipThreshold:        viper.GetInt("multi_image.zip_threshold"),
				Delay:               delivery.DefaultOptions().Delay,
				BotName:             viper.GetString("onebot.bot_name"),
				SelfID:              bot.SelfID,
			}, logger)

			prefix := viper.GetString("command.prefix")
			engine := session.NewEngine(session.Options{
				InteractiveEnabled: viper.GetBool("interactive.enabled"),
				Timeout:            viper.GetDuration("interactive.timeout"),
				CancelKeyword:      prefix + "取消",
				RecallPrompts:      viper.GetBool("interactive.recall_prompts"),
				RepromptEnabled:    viper.GetBool("interactive.reprompt_enabled"),
				RepromptThreshold:  viper.GetInt("interactive.reprompt_threshold"),
			}, bot, api, planner, resolver, st, logger)

			h := handlers.New(handlers.Options{
				Prefix:            prefix,
				Fuzzy:             viper.GetBool("command.fuzzy_match"),
				LabelNewDays:      viper.GetInt("labels.new_days"),
				LabelHotDays:      viper.GetInt("labels.hot_days"),
				LabelHotThreshold: viper.GetInt("labels.hot_threshold"),
				SearchPageSize:    viper.GetInt("search.page_size"),
				SearchTimeout:     viper.GetDuration("search.timeout"),
			}, bot, api, cat, st, checker, engine, planner, resolver, logger)

			dispatcher := dispatch.New(dispatch.Options{
				Prefix: prefix,
				Fuzzy:  viper.GetBool("command.fuzzy_match"),
			}, h.Table(), cat, engine, st, h.MemeStats, logger)

			logger.Info("memebot_starting",
				"ws_url", viper.GetString("onebot.ws_url"),
				"api_base_url", viper.GetString("api.base_url"),
				"prefix", prefix,
			)
			return bot.Run(ctx, func(msg *platform.InboundMessage) {
				dispatcher.Dispatch(ctx, msg)
			})
		},
	}
	return cmd
}

func openStore(logger *slog.Logger) (*store.Store, error) {
	cfg := store.DefaultConfig()
	cfg.DSN = viper.GetString("db.dsn")
	cfg.SQLite.BusyTimeoutMs = viper.GetInt("db.sqlite.busy_timeout_ms")
	cfg.SQLite.WAL = viper.GetBool("db.sqlite.wal")
	cfg.SQLite.ForeignKeys = viper.GetBool("db.sqlite.foreign_keys")
	return store.Open(cfg, logger)
}
