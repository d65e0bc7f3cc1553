package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	gatherly "github.com/gatherly-app/gatherly/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	authPassword string

	// register
	registerFullName string
)

func init() {
	registerCmd.Flags().StringVar(&authPassword, "password", "", "Account password (read from stdin when omitted)")
	registerCmd.Flags().StringVar(&registerFullName, "full-name", "", "Display name")
	loginCmd.Flags().StringVar(&authPassword, "password", "", "Account password (read from stdin when omitted)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func readPassword() (string, error) {
	if authPassword != "" {
		return authPassword, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required")
	}
	return pw, nil
}

func printUser(u *gatherly.User) {
	fmt.Printf("  User ID:   %d\n", u.ID)
	fmt.Printf("  Email:     %s\n", u.Email)
	fmt.Printf("  Full name: %s\n", valueOrDefault(u.FullName, "(not set)"))
}

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account and sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword()
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		user, err := a.client.Register(ctx, gatherly.RegisterOptions{
			Email:    args[0],
			Password: password,
			FullName: registerFullName,
		})
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		fmt.Println("Registration successful!")
		printUser(user)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in and store the access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword()
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		user, err := a.client.Login(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Println("Signed in.")
		printUser(user)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token and profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		if err := a.client.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	},
}
