package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

func routeCmd() *cobra.Command {
	var (
		msg     domain.Message
		channel string
		slots   map[string]string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Route one message and print the resulting actions",
		Long: "Runs a message through rate limiting, the routing engine and action dispatch, " +
			"then prints the actions as JSON. With --dry-run only the engine runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(msg.Body) == "" {
				return errors.New("--body is required")
			}
			msg.Channel = domain.ParseChannel(channel)
			if msg.EventID == "" {
				msg.EventID = uuid.NewString()
			}
			if len(slots) > 0 {
				msg.Slots = make(domain.Slots, len(slots))
				for k, v := range slots {
					msg.Slots[k] = v
				}
			}

			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}

			var actions []domain.Action
			if dryRun {
				actions, err = a.Engine.Handle(ctx, msg)
			} else {
				actions, err = a.Router.Route(ctx, msg)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, actions)
		},
	}
	f := cmd.Flags()
	f.StringVar(&msg.TenantID, "tenant", "default", "tenant id")
	f.StringVar(&msg.From, "from", "", "sender, e.g. whatsapp:+48500100200")
	f.StringVar(&msg.To, "to", "", "receiving number")
	f.StringVar(&msg.Body, "body", "", "message text")
	f.StringVar(&channel, "channel", string(domain.ChannelWhatsApp), "whatsapp or web")
	f.StringVar(&msg.ChannelUserID, "user", "", "channel user id (defaults to --from)")
	f.StringVar(&msg.ConversationID, "conversation", "", "conversation id (defaults to the sender)")
	f.StringVar(&msg.Intent, "intent", "", "skip classification and use this intent")
	f.StringToStringVar(&slots, "slot", nil, "slot values for --intent, key=value")
	f.StringVar(&msg.LanguageCode, "lang", "", "language code")
	f.BoolVar(&dryRun, "dry-run", false, "do not rate limit, log or dispatch")
	return cmd
}

func purgeStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-stats",
		Short: "Delete stale rate-limit counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Housekeeping.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func releaseAgentCmd() *cobra.Command {
	var tenant, channel, user string
	cmd := &cobra.Command{
		Use:   "release-agent",
		Short: "Hand a conversation back to the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Conversations.ReleaseAgent(cmd.Context(), tenant, domain.ParseChannel(channel), user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %s/%s/%s\n", tenant, channel, user)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	cmd.Flags().StringVar(&channel, "channel", string(domain.ChannelWhatsApp), "whatsapp or web")
	cmd.Flags().StringVar(&user, "user", "", "channel user id")
	return cmd
}

func setLanguageCmd() *cobra.Command {
	var tenant, channel, user, lang string
	cmd := &cobra.Command{
		Use:   "set-language",
		Short: "Change the language of one conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Engine.ChangeLanguage(cmd.Context(), tenant, domain.ParseChannel(channel), user, lang)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	cmd.Flags().StringVar(&channel, "channel", string(domain.ChannelWhatsApp), "whatsapp or web")
	cmd.Flags().StringVar(&user, "user", "", "channel user id")
	cmd.Flags().StringVar(&lang, "lang", "", "language code")
	return cmd
}

func tenantLanguageCmd() *cobra.Command {
	var tenant, lang string
	cmd := &cobra.Command{
		Use:   "tenant-language",
		Short: "Set a tenant's default language",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(lang) == "" {
				return errors.New("--lang is required")
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Tenants.SetLanguage(cmd.Context(), tenant, lang)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id")
	cmd.Flags().StringVar(&lang, "lang", "", "language code")
	return cmd
}

func putTemplateCmd() *cobra.Command {
	var tpl domain.Template
	cmd := &cobra.Command{
		Use:   "put-template",
		Short: "Store a reply template",
		Example: `  gymctl put-template --tenant t1 --name handover_to_staff --lang pl \
    --body "Łączę Cię z pracownikiem klubu."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tpl.Name == "" || tpl.LanguageCode == "" {
				return errors.New("--name and --lang are required")
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Templates.Put(cmd.Context(), tpl)
		},
	}
	cmd.Flags().StringVar(&tpl.TenantID, "tenant", "default", "tenant id")
	cmd.Flags().StringVar(&tpl.Name, "name", "", "template name")
	cmd.Flags().StringVar(&tpl.LanguageCode, "lang", "", "language code")
	cmd.Flags().StringVar(&tpl.Body, "body", "", "template body with {placeholders}")
	return cmd
}
