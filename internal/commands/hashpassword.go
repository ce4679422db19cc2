package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pictocal/internal/auth"
)

func addHashPassword(topLevel *cobra.Command) {
	var username string

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password for the auth.users section of the config.",
		Long: `Prompts for a password twice and prints an Argon2id hash ready to paste
into the config file. When stdin is not a terminal the first line is read
as the password.`,
		Example: `
pictocal hash-password --user anna
echo 's3cret' | pictocal hash-password --user anna
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(username) == "" {
				return errors.New("--user is required")
			}
			password, err := readNewPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			printUserSnippet(cmd.OutOrStdout(), username, hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "Username the hash is for.")

	topLevel.AddCommand(cmd)
}

// readNewPassword prompts twice on a terminal, or reads one line otherwise.
func readNewPassword(in io.Reader, prompt io.Writer) (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return "", errors.New("password cannot be empty")
		}
		return password, nil
	}

	fmt.Fprint(prompt, "Enter password:   ")
	first, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(prompt, "Confirm password: ")
	second, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	if len(first) == 0 {
		return "", errors.New("password cannot be empty")
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func printUserSnippet(w io.Writer, username, hash string) {
	key := color.New(color.FgCyan)
	_, _ = fmt.Fprintln(w, "auth:")
	_, _ = fmt.Fprintln(w, "  users:")
	_, _ = fmt.Fprintf(w, "    - %s %s\n", key.Sprint("username:"), username)
	_, _ = fmt.Fprintf(w, "      %s %q\n", key.Sprint("password_hash:"), hash)
}
