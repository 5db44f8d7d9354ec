package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/scenario-steal/internal/config"
	"github.com/iliyamo/scenario-steal/internal/database"
	"github.com/iliyamo/scenario-steal/internal/model"
	"github.com/iliyamo/scenario-steal/internal/service"
	"github.com/iliyamo/scenario-steal/internal/utils"
)

func parseID(s, what string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return n, nil
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := connect(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := database.Migrate(rt.db, rt.dialect); err != nil {
				return err
			}
			return output(cmd, opts, map[string]string{"status": "ok", "dialect": string(rt.dialect)},
				"migrations applied ("+string(rt.dialect)+")")
		},
	}
}

func newResolveCommand(opts *RootOptions) *cobra.Command {
	var (
		outcome   string
		moderator int64
	)
	cmd := &cobra.Command{
		Use:   "resolve <scenario-id>",
		Short: "Record the outcome of a scenario and pay out",
		Example: `  scenarioctl resolve 1834 --outcome FULFILLED --moderator 9001
  scenarioctl resolve 1834 --outcome NOT_FULFILLED --moderator 9001 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "scenario id")
			if err != nil {
				return err
			}
			rt, err := connect(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := rt.engine.Resolve(cmd.Context(), service.ResolveRequest{
				ScenarioID:  id,
				Outcome:     model.Outcome(strings.ToUpper(outcome)),
				ModeratorID: moderator,
			})
			if err != nil {
				return err
			}
			return output(cmd, opts, res,
				fmt.Sprintf("resolved %d: paid %d to user %d", id, res.PayoutAmount, res.RecipientID))
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "FULFILLED or NOT_FULFILLED (required)")
	cmd.Flags().Int64Var(&moderator, "moderator", 0, "moderator user id recorded as resolver (required)")
	_ = cmd.MarkFlagRequired("outcome")
	_ = cmd.MarkFlagRequired("moderator")
	return cmd
}

func newCancelCommand(opts *RootOptions) *cobra.Command {
	var actor int64
	cmd := &cobra.Command{
		Use:   "cancel <scenario-id>",
		Short: "Cancel a scenario and refund every payer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "scenario id")
			if err != nil {
				return err
			}
			rt, err := connect(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := rt.engine.Cancel(cmd.Context(), service.CancelRequest{ScenarioID: id, ActorID: actor})
			if err != nil {
				return err
			}
			return output(cmd, opts, res,
				fmt.Sprintf("cancelled %d: refunded %d to %d users", id, res.Total, len(res.Refunds)))
		},
	}
	cmd.Flags().Int64Var(&actor, "actor", 0, "admin user id recorded on the scenario (required)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newCloseExpiredCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "close-expired",
		Short: "Close ACTIVE scenarios whose deadline has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := connect(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			n, err := rt.engine.CloseExpired(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return output(cmd, opts, map[string]int{"closed": n}, fmt.Sprintf("closed %d scenarios", n))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum scenarios to close")
	return cmd
}

func newRelayCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Deliver pending notifications once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := connect(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := rt.engine.Dispatcher().DispatchPending(ctx, limit)
			if err != nil {
				return err
			}
			return output(cmd, opts, map[string]int{"sent": n}, fmt.Sprintf("sent %d notifications", n))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum notifications to deliver")
	return cmd
}

func newGrantCommand(opts *RootOptions) *cobra.Command {
	var (
		actor     int64
		note      string
		unlimited bool
	)
	cmd := &cobra.Command{
		Use:   "grant <user-id> <delta>",
		Short: "Adjust a balance, opening the account if needed",
		Example: `  scenarioctl grant 1001 500 --actor 1 --note "launch bonus"
  scenarioctl grant --actor 1 1001 -- -50
  scenarioctl grant 42 0 --unlimited --actor 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parseID(args[0], "user id")
			if err != nil {
				return err
			}
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid delta %q", args[1])
			}
			req := service.AdjustRequest{UserID: user, Delta: delta, ActorID: actor, Note: note}
			if cmd.Flags().Changed("unlimited") {
				req.Unlimited = &unlimited
			}
			rt, err := connect(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			acc, err := rt.engine.AdjustBalance(cmd.Context(), req)
			if err != nil {
				return err
			}
			return output(cmd, opts, map[string]any{
				"user_id":   strconv.FormatInt(acc.UserID, 10),
				"balance":   acc.Balance,
				"unlimited": acc.Unlimited,
			}, fmt.Sprintf("user %d balance %d (unlimited=%t)", acc.UserID, acc.Balance, acc.Unlimited))
		},
	}
	cmd.Flags().Int64Var(&actor, "actor", 0, "admin user id for the audit log")
	cmd.Flags().StringVar(&note, "note", "", "free text for the audit log")
	cmd.Flags().BoolVar(&unlimited, "unlimited", false, "set or clear the unlimited flag")
	return cmd
}

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an access token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parseID(args[0], "user id")
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.AccessTTLMin) * time.Minute
			}
			tok, err := utils.NewAccessToken(cfg.JWTSecret, user, model.Role(strings.ToUpper(role)), ttl)
			if err != nil {
				return err
			}
			return output(cmd, opts, map[string]any{"token": tok.Token, "expires_at": tok.Exp}, tok.Token)
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RoleUser), "USER, MODERATOR or ADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ACCESS_TOKEN_TTL_MIN)")
	return cmd
}
