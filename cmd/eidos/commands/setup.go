package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/provolt/eidos/pkg/eidos/agent"
	"github.com/provolt/eidos/pkg/eidos/secrets"
)

// newSetupCmd creates the `eidos setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial eidos.yaml.
Asks for the model endpoint, API key and channel tokens. The API key is
stored in the OS keyring when available, never in the config file.

Examples:
  eidos setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := agent.DefaultConfig()

	var (
		characterPath = cfg.CharacterPath
		baseURL       = cfg.Model.BaseURL
		smallModel    = cfg.Model.SmallModel
		largeModel    = cfg.Model.LargeModel
		apiKey        string
		telegramToken string
		discordToken  string
		confirmed     = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Character file").
				Description("Path to a character YAML. Leave empty for the built-in default.").
				Value(&characterPath),
			huh.NewInput().
				Title("Model API base URL").
				Value(&baseURL),
			huh.NewSelect[string]().
				Title("Small model (decisions, reflection)").
				Options(
					huh.NewOption("gpt-4o-mini", "gpt-4o-mini"),
					huh.NewOption("gpt-4.1-mini", "gpt-4.1-mini"),
					huh.NewOption("gpt-5-mini", "gpt-5-mini"),
				).
				Value(&smallModel),
			huh.NewSelect[string]().
				Title("Large model (replies)").
				Options(
					huh.NewOption("gpt-4o", "gpt-4o"),
					huh.NewOption("gpt-4.1", "gpt-4.1"),
					huh.NewOption("gpt-5", "gpt-5"),
				).
				Value(&largeModel),
			huh.NewInput().
				Title("API key").
				Description("Stored in the OS keyring, not in the config file.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&telegramToken),
			huh.NewInput().
				Title("Discord bot token (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&discordToken),
			huh.NewConfirm().
				Title("Save to eidos.yaml?").
				Value(&confirmed),
		),
	)

	if err := form.Run(); err != nil {
		// Non-TTY or cancelled form: fall back to a minimal prompt for the
		// one secret that matters.
		fmt.Printf("Interactive form unavailable (%v), minimal setup.\n", err)
		key, perr := secrets.ReadPassword("API key (hidden): ")
		if perr != nil {
			return fmt.Errorf("setup requires a terminal: %w", perr)
		}
		apiKey = key
	}

	if !confirmed {
		fmt.Println("Setup cancelled.")
		return nil
	}

	cfg.CharacterPath = strings.TrimSpace(characterPath)
	cfg.Model.BaseURL = strings.TrimSpace(baseURL)
	cfg.Model.SmallModel = smallModel
	cfg.Model.LargeModel = largeModel

	if token := strings.TrimSpace(telegramToken); token != "" {
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.Token = token
	}
	if token := strings.TrimSpace(discordToken); token != "" {
		cfg.Channels.Discord.Enabled = true
		cfg.Channels.Discord.Token = token
	}

	if key := strings.TrimSpace(apiKey); key != "" {
		if secrets.Available() {
			if err := secrets.Store("api_key", key); err != nil {
				fmt.Printf("Keyring store failed (%v), keeping key in config.\n", err)
				cfg.Model.APIKey = key
			} else {
				fmt.Println("API key stored in OS keyring.")
			}
		} else {
			// No keyring on this system; an env reference keeps the file
			// free of plaintext secrets.
			cfg.Model.APIKey = "${EIDOS_API_KEY}"
			fmt.Println("No OS keyring available. Set EIDOS_API_KEY in the environment or .env.")
		}
	}

	target := "eidos.yaml"
	if _, err := os.Stat(target); err == nil {
		overwrite := false
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", target)).
			Value(&overwrite)
		if err := prompt.Run(); err != nil || !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := agent.SaveConfigFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\n%s created.\n\n", target)
	fmt.Println("Next steps:")
	fmt.Println("  1. Run: eidos chat        (terminal conversation)")
	fmt.Println("  2. Or:  eidos serve       (connect channels)")
	fmt.Println()
	return nil
}
