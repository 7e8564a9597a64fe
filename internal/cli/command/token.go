package command

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/relaymesh-go/pkg/token"
)

// TokenCommand returns the token subcommand group. It signs and inspects
// client tokens with the configured auth.token_key.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Sign and inspect client session tokens",
		Subcommands: []*cli.Command{
			{
				Name:  "sign",
				Usage: "Sign a session token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Usage: "Session id (generated when empty)"},
					&cli.StringFlag{Name: "username", Usage: "User name"},
					&cli.StringFlag{Name: "subidentity", Usage: "Subidentity"},
					&cli.StringFlag{Name: "device", Usage: "Device id"},
					&cli.StringFlag{Name: "group", Usage: "Subidentity group"},
					&cli.StringFlag{Name: "solution", Usage: "Solution of a plain user"},
					&cli.BoolFlag{Name: "plain", Usage: "Mark the session as a plain user"},
					&cli.StringSliceFlag{Name: "context", Usage: "Context id the session belongs to (repeatable)"},
					&cli.StringFlag{Name: "host", Usage: "Pin the token to a tenant host"},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime, 0 for no expiry", Value: 24 * time.Hour},
				},
				Action: tokenSign,
			},
			{
				Name:      "verify",
				Usage:     "Verify a token and print its claims",
				ArgsUsage: "TOKEN",
				Action:    tokenVerify,
			},
		},
	}
}

type signedToken struct {
	Token       string    `json:"token"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	FrameSecret string    `json:"frame_secret"`
}

type tokenClaims struct {
	SessionID        string    `json:"session_id"`
	Username         string    `json:"username"`
	Subidentity      string    `json:"subidentity"`
	DeviceID         string    `json:"device_id"`
	SubidentityGroup string    `json:"subidentity_group"`
	Solution         string    `json:"solution"`
	Plain            bool      `json:"plain"`
	ContextIDs       []string  `json:"context_ids"`
	Host             string    `json:"host"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func signerFromConfig(c *cli.Context) (*token.Signer, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if cfg.Auth.TokenKey == "" {
		return nil, errors.New("auth.token_key is not set")
	}
	return token.NewSigner([]byte(cfg.Auth.TokenKey))
}

func tokenSign(c *cli.Context) error {
	signer, err := signerFromConfig(c)
	if err != nil {
		return err
	}

	claims := token.Claims{
		SessionID:        c.String("session"),
		Username:         c.String("username"),
		Subidentity:      c.String("subidentity"),
		DeviceID:         c.String("device"),
		SubidentityGroup: c.String("group"),
		Solution:         c.String("solution"),
		Plain:            c.Bool("plain"),
		ContextIDs:       c.StringSlice("context"),
		Host:             strings.ToLower(c.String("host")),
	}
	if claims.SessionID == "" {
		claims.SessionID = uuid.NewString()
	}
	var expires time.Time
	if ttl := c.Duration("ttl"); ttl > 0 {
		expires = time.Now().Add(ttl).Truncate(time.Second)
		claims.ExpiresAt = expires.Unix()
	}

	tok, err := signer.Sign(claims)
	if err != nil {
		return err
	}
	return render(c, signedToken{
		Token:       tok,
		SessionID:   claims.SessionID,
		ExpiresAt:   expires,
		FrameSecret: hex.EncodeToString(signer.SessionSecret(claims.SessionID)),
	})
}

func tokenVerify(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: token verify TOKEN", 2)
	}
	signer, err := signerFromConfig(c)
	if err != nil {
		return err
	}
	claims, err := signer.Verify(c.Args().First())
	if err != nil {
		return err
	}

	out := tokenClaims{
		SessionID:        claims.SessionID,
		Username:         claims.Username,
		Subidentity:      claims.Subidentity,
		DeviceID:         claims.DeviceID,
		SubidentityGroup: claims.SubidentityGroup,
		Solution:         claims.Solution,
		Plain:            claims.Plain,
		ContextIDs:       claims.ContextIDs,
		Host:             claims.Host,
	}
	if claims.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(claims.ExpiresAt, 0)
	}
	return render(c, out)
}
