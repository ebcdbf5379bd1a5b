package wizard

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/tessro/encore/internal/config"
	"golang.org/x/term"
)

// IsTerminal returns true if stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Answers holds the values collected by the setup form.
type Answers struct {
	ServerURL   string
	Token       string
	ProfileID   string
	DeviceName  string
	Audio       string
	Persistence string
	Volume      string
	Theme       string
}

// AnswersFrom seeds the form with the values already in cfg.
func AnswersFrom(cfg *config.Config) *Answers {
	return &Answers{
		ServerURL:   cfg.Server.URL,
		Token:       cfg.Server.Token,
		ProfileID:   cfg.Profile.ID,
		DeviceName:  cfg.Device.Name,
		Audio:       cfg.Audio.Backend,
		Persistence: cfg.Persistence.Backend,
		Volume:      strconv.Itoa(cfg.Audio.Volume),
		Theme:       cfg.TUI.Theme,
	}
}

// Apply copies the answers into cfg.
func (a *Answers) Apply(cfg *config.Config) error {
	if err := validateURL(a.ServerURL); err != nil {
		return err
	}
	vol, err := parseVolume(a.Volume)
	if err != nil {
		return err
	}
	cfg.Server.URL = a.ServerURL
	cfg.Server.Token = a.Token
	cfg.Profile.ID = a.ProfileID
	cfg.Device.Name = a.DeviceName
	cfg.Audio.Backend = a.Audio
	cfg.Audio.Volume = vol
	cfg.Persistence.Backend = a.Persistence
	cfg.TUI.Theme = a.Theme
	return nil
}

// Form builds the interactive setup form bound to a.
func (a *Answers) Form() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server URL").
				Description("Address of your media server").
				Placeholder("http://localhost:8096").
				Value(&a.ServerURL).
				Validate(validateURL),
			huh.NewInput().
				Title("API token").
				Description("Leave empty if the server does not require one").
				EchoMode(huh.EchoModePassword).
				Value(&a.Token),
			huh.NewInput().
				Title("Profile").
				Description("Leave empty to use the server's current profile").
				Value(&a.ProfileID),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Device name").
				Value(&a.DeviceName),
			huh.NewSelect[string]().
				Title("Audio output").
				Options(
					huh.NewOption("mpv", "mpv"),
					huh.NewOption("Silent (control only)", "silent"),
				).
				Value(&a.Audio),
			huh.NewInput().
				Title("Initial volume").
				Description("0-100").
				Value(&a.Volume).
				Validate(func(s string) error {
					_, err := parseVolume(s)
					return err
				}),
			huh.NewSelect[string]().
				Title("Snapshot storage").
				Options(
					huh.NewOption("File", "file"),
					huh.NewOption("SQLite", "sqlite"),
					huh.NewOption("Memory (nothing survives a restart)", "memory"),
				).
				Value(&a.Persistence),
			huh.NewSelect[string]().
				Title("Theme").
				Options(
					huh.NewOption("Auto", "auto"),
					huh.NewOption("Dark", "dark"),
					huh.NewOption("Light", "light"),
				).
				Value(&a.Theme),
		),
	)
}

// Run shows the setup form and applies the answers to cfg.
// Returns false if the user aborted.
func Run(cfg *config.Config) (bool, error) {
	a := AnswersFrom(cfg)
	if err := a.Form().Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return true, a.Apply(cfg)
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return fmt.Errorf("enter a full URL such as http://localhost:8096")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	return nil
}

func parseVolume(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 100 {
		return 0, fmt.Errorf("volume must be between 0 and 100")
	}
	return v, nil
}
