package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetops/internal/console"
)

func newWatchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the live fleet feed",
		Long:  "watch connects to a running server's websocket feed and renders drone positions and mission events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := feedURL(v.GetString("url"), v.GetString("listen"), v.GetString("organization"))
			if err != nil {
				return err
			}
			return console.Watch(cmd.Context(), console.Options{URL: target, Plain: v.GetBool("plain")})
		},
	}
	cmd.Flags().String("url", "", "feed URL (default derived from --listen)")
	cmd.Flags().String("organization", "", "only show one organization")
	cmd.Flags().Bool("plain", false, "print lines instead of the full-screen view")
	return cmd
}

// feedURL resolves the websocket URL. An http(s) URL is converted.
func feedURL(raw, listen, organization string) (string, error) {
	if raw == "" {
		if listen == "" {
			listen = ":8080"
		}
		if strings.HasPrefix(listen, ":") {
			listen = "localhost" + listen
		}
		raw = "ws://" + listen + "/ws"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid feed url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if organization != "" {
		q := u.Query()
		q.Set("organization", organization)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
