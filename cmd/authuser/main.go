package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

// Prints AUTH_USERS entries for the server. Passwords come from --password or,
// one per username, from stdin.
func main() {
	fs := pflag.NewFlagSet("fleetsync-authuser", pflag.ExitOnError)
	password := fs.String("password", "", "password for every listed user (read from stdin when empty)")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	_ = fs.Parse(os.Args[1:])

	usernames := fs.Args()
	if len(usernames) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fleetsync-authuser [--password pw] <username>...")
		os.Exit(2)
	}

	entries, err := buildEntries(usernames, *password, *cost, os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
	fmt.Printf("AUTH_USERS=%s\n", strings.Join(entries, ","))
}

func buildEntries(usernames []string, password string, cost int, stdin io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(stdin)
	entries := make([]string, 0, len(usernames))
	for _, name := range usernames {
		pw := password
		if pw == "" {
			if !scanner.Scan() {
				return nil, fmt.Errorf("no password on stdin for %s", name)
			}
			pw = strings.TrimSpace(scanner.Text())
		}
		entry, err := authEntry(name, pw, cost)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// authEntry hashes password into one "username:bcrypt-hash" pair
func authEntry(username, password string, cost int) (string, error) {
	if username == "" || strings.ContainsAny(username, ":,") {
		return "", fmt.Errorf("invalid username %q", username)
	}
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password for %s: %w", username, err)
	}
	return username + ":" + string(hash), nil
}
