package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"siapxml/internal/secret"
)

func newSecretCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage legacy database passwords in the OS keychain",
	}

	set := &cobra.Command{
		Use:     "set <source>",
		Short:   "Store the password of a source system (read from stdin)",
		Example: `  echo masterkey | siapxml secret set CNES`,
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseSource(args[0])
			if err != nil {
				return err
			}
			pw, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitCommandError, "read password", err)
			}
			if err := a.secrets.Set(secret.PasswordKey(string(src)), []byte(pw)); err != nil {
				return WrapExitError(ExitFailure, "store password", err)
			}
			return newOutput(cmd, a.opts).Message(
				fmt.Sprintf("password for %s stored", src),
				map[string]string{"source": string(src), "status": "stored"},
			)
		},
	}

	del := &cobra.Command{
		Use:   "delete <source>",
		Short: "Remove the stored password of a source system",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseSource(args[0])
			if err != nil {
				return err
			}
			if err := a.secrets.Delete(secret.PasswordKey(string(src))); err != nil {
				return WrapExitError(ExitFailure, "delete password", err)
			}
			return newOutput(cmd, a.opts).Message(
				fmt.Sprintf("password for %s deleted", src),
				map[string]string{"source": string(src), "status": "deleted"},
			)
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}
