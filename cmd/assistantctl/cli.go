package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/middleware"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
	"github.com/capitalize-ai/shopping-assistant/internal/service"
	"github.com/capitalize-ai/shopping-assistant/internal/store"
)

// deps are the collaborators the commands operate on.
type deps struct {
	personas  *service.PersonaService
	sessions  *store.SessionStore
	jwtSecret string
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(d deps, out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "assistantctl",
		Usage:   "Administer shopping assistant personas and sessions",
		Version: Version,
		Writer:  out,
		Commands: []*cli.Command{
			personasCmd(d),
			sessionsCmd(d),
			tokenCmd(d),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func ownerFlag() cli.Flag {
	return &cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Required: true, Usage: "Owning user ID"}
}

func personasCmd(d deps) *cli.Command {
	return &cli.Command{
		Name:  "personas",
		Usage: "Manage stored recipient personas",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a user's personas",
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Recipient type"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Exact name (case-insensitive)"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 50, Usage: "Maximum personas"},
				},
				Action: func(c *cli.Context) error {
					resp, err := d.personas.List(c.Context, c.String("owner"), persona.ListFilter{
						Type:  c.String("type"),
						Name:  c.String("name"),
						Limit: c.Int("limit"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, resp)
				},
			},
			{
				Name:  "add",
				Usage: "Create a persona",
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Required: true, Usage: "Recipient type, e.g. mother"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Recipient name"},
					&cli.IntFlag{Name: "age", Aliases: []string{"a"}, Required: true, Usage: "Age in years"},
					&cli.StringFlag{Name: "gender", Aliases: []string{"g"}, Required: true, Usage: "male|female|other"},
					&cli.StringFlag{Name: "interests", Aliases: []string{"i"}, Usage: "Comma-separated interests"},
				},
				Action: func(c *cli.Context) error {
					age := c.Int("age")
					p, err := d.personas.Create(c.Context, c.String("owner"), &model.CreatePersonaRequest{
						Type:      c.String("type"),
						Name:      c.String("name"),
						Age:       &age,
						Gender:    c.String("gender"),
						Interests: splitList(c.String("interests")),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, p)
				},
			},
			{
				Name:      "show",
				Usage:     "Show one persona",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					id, err := requireID(c)
					if err != nil {
						return err
					}
					p, err := d.personas.Get(c.Context, c.String("owner"), id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, p)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a persona",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					id, err := requireID(c)
					if err != nil {
						return err
					}
					if err := d.personas.Delete(c.Context, c.String("owner"), id); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"id": id, "deleted": true})
				},
			},
		},
	}
}

func sessionsCmd(d deps) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect finished flow sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a user's most recent sessions, newest first",
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 10, Usage: "Maximum sessions"},
				},
				Action: func(c *cli.Context) error {
					owner := c.String("owner")
					sessions, err := d.sessions.ListSessions(c.Context, owner, c.Int("limit"))
					if err != nil {
						return outputError(err)
					}
					total, err := d.sessions.CountSessions(c.Context, owner)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, model.ListSessionsResponse{Sessions: sessions, Total: total})
				},
			},
		},
	}
}

func tokenCmd(d deps) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for local testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "Subject user ID"},
			&cli.StringSliceFlag{Name: "scope", Aliases: []string{"s"}, Usage: "Granted scope (repeatable)"},
			&cli.DurationFlag{Name: "ttl", Value: time.Hour, Usage: "Token lifetime"},
		},
		Action: func(c *cli.Context) error {
			if d.jwtSecret == "" {
				return outputError(errors.New("JWT_SECRET is not set"))
			}
			tok, err := middleware.IssueToken(d.jwtSecret, c.String("user"), c.StringSlice("scope"), c.Duration("ttl"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]any{"token": tok, "expires_in": int(c.Duration("ttl").Seconds())})
		},
	}
}

func requireID(c *cli.Context) (string, error) {
	if c.NArg() == 0 {
		return "", outputError(apperr.NewValidation("persona id argument is required"))
	}
	return c.Args().First(), nil
}

// outputJSON writes v as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// splitList splits a comma-separated string, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
