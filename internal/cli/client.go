package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/najahiiii/xray-panel/internal/lifecycle"
	"github.com/najahiiii/xray-panel/internal/link"
	"github.com/najahiiii/xray-panel/internal/model"
	"github.com/najahiiii/xray-panel/internal/usage"
)

func newClientCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage proxy clients",
	}
	cmd.AddCommand(
		newClientAddCmd(o),
		newClientListCmd(o),
		newClientEditCmd(o),
		newClientDelCmd(o),
		newClientLinkCmd(o),
		newClientStatusCmd(o, "disable", model.StatusDisabled),
		newClientStatusCmd(o, "enable", model.StatusActive),
	)
	return cmd
}

func parseExpiry(s string) (time.Time, error) {
	t, err := time.ParseInLocation(model.ExpiryLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("expiry must look like %q: %w", model.ExpiryLayout, model.ErrInvalidInput)
	}
	return t, nil
}

func printResult(w io.Writer, action string, res lifecycle.Result) {
	r := res.Record
	fmt.Fprintf(w, "Client '%s' %s (%s, expires %s)\n", r.Username, action, r.Tag(), r.Expiry.Format(model.ExpiryLayout))
	if res.Link != "" && res.Link != link.Invalid {
		fmt.Fprintln(w, res.Link)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if res.Outcome.RestartErr != nil {
		fmt.Fprintf(w, "warning: %v\n", res.Outcome.RestartErr)
	}
}

func newClientAddCmd(o *options) *cobra.Command {
	var (
		quota      float64
		days       int
		expiry     string
		tag        string
		credential string
	)
	cmd := &cobra.Command{
		Use:   "add [username]",
		Short: "Add a new client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := lifecycle.CreateRequest{Username: args[0], QuotaGB: quota, Days: days, Credential: credential}
			if expiry != "" {
				t, err := parseExpiry(expiry)
				if err != nil {
					return err
				}
				req.Expiry = t
			}
			if tag != "" {
				req.Protocol, req.Transport, _ = model.ParseTag(tag)
			}
			res, err := o.app.Controller.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), "created", res)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&quota, "quota", "q", 0, "quota in GB, 0 for unlimited")
	cmd.Flags().IntVarP(&days, "days", "d", 30, "days until expiry")
	cmd.Flags().StringVar(&expiry, "expiry", "", "exact expiry, overrides --days")
	cmd.Flags().StringVarP(&tag, "protocol", "p", "", "protocol-transport, e.g. VLESS-WS (default: active inbound)")
	cmd.Flags().StringVar(&credential, "credential", "", "uuid or trojan password (default: generated)")
	return cmd
}

func newClientListCmd(o *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all clients with usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := o.app.Controller.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No clients found")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tPROTOCOL\tSTATUS\tUSED\tQUOTA\tEXPIRES\tDAYS LEFT\tONLINE")
			for _, r := range rows {
				quota := "Unlimited"
				if r.QuotaGB > 0 {
					quota = fmt.Sprintf("%g GB", r.QuotaGB)
				}
				online := "-"
				if r.Online {
					online = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.Username, model.InboundTag(r.Protocol, r.Transport), r.Status,
					usage.FormatBytes(r.TotalBytes), quota, r.Expiry.Format(model.ExpiryLayout), r.DaysLeft, online)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newClientEditCmd(o *options) *cobra.Command {
	var (
		quota      float64
		addDays    int
		expiry     string
		credential string
	)
	cmd := &cobra.Command{
		Use:   "edit [username]",
		Short: "Change quota, expiry or credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := lifecycle.EditRequest{Username: args[0], AddDays: addDays, Credential: credential}
			if cmd.Flags().Changed("quota") {
				req.QuotaGB = &quota
			}
			if expiry != "" {
				t, err := parseExpiry(expiry)
				if err != nil {
					return err
				}
				req.Expiry = &t
			}
			res, err := o.app.Controller.Edit(cmd.Context(), req)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), "updated", res)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&quota, "quota", "q", 0, "new quota in GB")
	cmd.Flags().IntVarP(&addDays, "add-days", "d", 0, "extend expiry by this many days")
	cmd.Flags().StringVar(&expiry, "expiry", "", "set an exact expiry")
	cmd.Flags().StringVar(&credential, "credential", "", "replace uuid or trojan password")
	return cmd
}

func newClientDelCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "del [username]",
		Aliases: []string{"remove", "rm"},
		Short:   "Remove a client",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := o.app.Controller.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client '%s' removed\n", args[0])
			for _, warn := range res.Warnings {
				fmt.Fprintf(out, "warning: %s\n", warn)
			}
			return nil
		},
	}
}

func newClientLinkCmd(o *options) *cobra.Command {
	var qrPath string
	cmd := &cobra.Command{
		Use:   "link [username]",
		Short: "Print the share link, optionally writing a QR code PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := o.app.Controller.Link(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			if qrPath == "" {
				return nil
			}
			png, err := link.QRCode(uri, link.DefaultQRSize)
			if err != nil {
				return err
			}
			return os.WriteFile(qrPath, png, 0o600)
		},
	}
	cmd.Flags().StringVar(&qrPath, "qr", "", "write a QR code PNG to this file")
	return cmd
}

func newClientStatusCmd(o *options, use string, status model.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [username]",
		Short: fmt.Sprintf("Set a client %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := o.app.Controller.SetStatus(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), string(res.Record.Status), res)
			return nil
		},
	}
}
