package cmd

import (
	"bytes"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// detectShell guesses the current shell from $SHELL
func detectShell() string {
	shell := strings.ToLower(os.Getenv("SHELL"))
	switch {
	case strings.Contains(shell, "fish"):
		return "fish"
	case strings.Contains(shell, "zsh"):
		return "zsh"
	case strings.Contains(shell, "pwsh"), strings.Contains(shell, "powershell"):
		return "powershell"
	}
	return "bash"
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: func() string {
		return `Generate shell completion script for slurmgate.

If no shell is specified, ` + detectShell() + ` will be used (auto-detected from $SHELL).
Cluster names and node roles are completed from the clusters document.

To load completions:

Bash:
  $ source <(slurmgate completion bash)

  # To load completions for each session, execute once:
  $ slurmgate completion bash > /etc/bash_completion.d/slurmgate

Zsh:
  # To load completions for each session, execute once:
  $ slurmgate completion zsh > "${fpath[1]}/_slurmgate"

Fish:
  $ slurmgate completion fish > ~/.config/fish/completions/slurmgate.fish

PowerShell:
  PS> slurmgate completion powershell | Out-String | Invoke-Expression
`
	}(),
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		shell := detectShell()
		if len(args) > 0 {
			shell = args[0]
		}

		// Completion lists long options only; shorthands come back afterwards.
		saved := stripShortFlagShorthands(cmd.Root())
		defer restoreShortFlagShorthands(saved)

		switch shell {
		case "bash":
			var buf bytes.Buffer
			if err := cmd.Root().GenBashCompletionV2(&buf, true); err != nil {
				return err
			}
			_, err := os.Stdout.WriteString(postProcessBashCompletion(buf.String()))
			return err
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// postProcessBashCompletion falls back to file completion once "--" is on
// the command line, so "slurmgate run -- <TAB>" completes paths instead of
// asking slurmgate.
func postProcessBashCompletion(script string) string {
	oldCode := `args=("${words[@]:1}")
    requestComp="${words[0]} __complete ${args[*]}"`

	newCode := `args=("${words[@]:1}")
    for word in "${words[@]}"; do
        if [[ "$word" == "--" ]]; then
            return
        fi
    done
    requestComp="${words[0]} __complete ${args[*]}"`

	return strings.Replace(script, oldCode, newCode, 1)
}

// stripShortFlagShorthands clears every shorthand in the command tree and
// returns the cleared values keyed by flag.
func stripShortFlagShorthands(root *cobra.Command) map[*pflag.Flag]string {
	saved := make(map[*pflag.Flag]string)
	strip := func(f *pflag.Flag) {
		if f.Shorthand != "" {
			saved[f] = f.Shorthand
			f.Shorthand = ""
		}
	}
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		c.LocalFlags().VisitAll(strip)
		c.PersistentFlags().VisitAll(strip)
		for _, child := range c.Commands() {
			walk(child)
		}
	}
	walk(root)
	return saved
}

func restoreShortFlagShorthands(saved map[*pflag.Flag]string) {
	for f, shorthand := range saved {
		f.Shorthand = shorthand
	}
}
