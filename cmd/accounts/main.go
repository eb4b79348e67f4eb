// Package main provides the account management CLI tool.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/auth"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

var serverPort = config.DefaultPort

func main() {
	args := os.Args[1:]
	command := "add"
	backendName := ""

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--backend" && i+1 < len(args):
			backendName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--backend="):
			backendName = strings.TrimPrefix(arg, "--backend=")
		case !strings.HasPrefix(arg, "-") && command == "add":
			command = arg
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			serverPort = p
		}
	}

	printBanner()

	scanner := bufio.NewScanner(os.Stdin)

	switch command {
	case "add":
		ensureServerStopped()
		interactiveAdd(scanner, backendName)
	case "list":
		listAccounts()
	case "remove":
		ensureServerStopped()
		interactiveRemove(scanner, pickBackend(scanner, backendName))
	case "clear":
		ensureServerStopped()
		clearAccounts(scanner, pickBackend(scanner, backendName))
	case "import-cursor":
		ensureServerStopped()
		importCursor()
	case "help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Run with \"help\" for usage information.")
	}
}

func printBanner() {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║     PolyClaude Proxy Account Manager   ║")
	fmt.Println("╚════════════════════════════════════════╝")
}

func printHelp() {
	fmt.Println("\nUsage:")
	fmt.Println("  polyclaude-accounts add            Add a new account")
	fmt.Println("  polyclaude-accounts list           List all accounts")
	fmt.Println("  polyclaude-accounts remove         Remove an account")
	fmt.Println("  polyclaude-accounts clear          Remove all accounts of a backend")
	fmt.Println("  polyclaude-accounts import-cursor  Import credentials from the Cursor editor")
	fmt.Println("  polyclaude-accounts help           Show this help")
	fmt.Println("\nOptions:")
	fmt.Println("  --backend=<b>   Target backend (cloudcode/codex/copilot/cursor)")
}

// isServerRunning checks if the proxy server is listening on the configured port.
func isServerRunning() bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", serverPort), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ensureServerStopped exits if the server is running; account files are only
// re-read on startup.
func ensureServerStopped() {
	if isServerRunning() {
		fmt.Printf("\n\033[31mError: the proxy server is currently running on port %d.\033[0m\n\n", serverPort)
		fmt.Println("Please stop the server (Ctrl+C) before managing accounts so your")
		fmt.Println("changes are loaded correctly on the next start.")
		os.Exit(1)
	}
}

// openBrowser opens the URL in the default browser.
func openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", strings.ReplaceAll(url, "&", "^&"))
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		fmt.Println("\n⚠ Could not open browser automatically.")
		fmt.Println("Please open this URL manually:", url)
	}
}

func prompt(scanner *bufio.Scanner, message string) string {
	fmt.Print(message)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

func pickBackend(scanner *bufio.Scanner, name string) config.Backend {
	for {
		if name != "" {
			for _, b := range config.Backends {
				if string(b) == strings.ToLower(name) {
					return b
				}
			}
			fmt.Printf("Unknown backend %q.\n", name)
		}
		name = prompt(scanner, "Backend (cloudcode/codex/copilot/cursor): ")
		if name == "" {
			fmt.Println("Cancelled.")
			os.Exit(0)
		}
	}
}

func loadAccounts(b config.Backend) ([]*store.Account, int) {
	return store.NewFileStore(b).Load()
}

func saveAccounts(b config.Backend, accounts []*store.Account, activeIndex int) {
	if activeIndex < 0 || activeIndex >= len(accounts) {
		activeIndex = 0
	}
	fs := store.NewFileStore(b)
	fs.Save(accounts, activeIndex)
	fs.Close()
}

func displayAccounts(b config.Backend, accounts []*store.Account) {
	if len(accounts) == 0 {
		fmt.Printf("\nNo %s accounts configured.\n", b)
		return
	}

	fmt.Printf("\n%d %s account(s):\n", len(accounts), b)
	for i, acc := range accounts {
		status := ""
		if !acc.Enabled {
			status = " (disabled)"
		} else if acc.Invalid {
			status = " (invalid: " + acc.InvalidReason + ")"
		} else if acc.IsCoolingDown(time.Now()) {
			status = " (rate limited)"
		}
		fmt.Printf("  %d. %s%s\n", i+1, acc.DisplayName(), status)
	}
}

// upsert replaces an account with the same email, otherwise appends.
func upsert(accounts []*store.Account, acc *store.Account) []*store.Account {
	if acc.Email != "" {
		for i, existing := range accounts {
			if existing.Email == acc.Email {
				acc.ID = existing.ID
				acc.AddedAt = existing.AddedAt
				accounts[i] = acc
				fmt.Printf("\n⚠ Account %s already existed; credentials updated.\n", acc.Email)
				return accounts
			}
		}
	}
	return append(accounts, acc)
}

// interactiveAdd runs the per-backend add flow.
func interactiveAdd(scanner *bufio.Scanner, backendName string) {
	backend := pickBackend(scanner, backendName)

	accounts, activeIndex := loadAccounts(backend)
	if len(accounts) >= config.MaxAccounts {
		fmt.Printf("\nMaximum of %d accounts reached for %s.\n", config.MaxAccounts, backend)
		return
	}
	displayAccounts(backend, accounts)

	var acc *store.Account
	switch backend {
	case config.BackendCloudCode:
		acc = addOAuthAccount(backend, config.CloudCodeOAuth)
	case config.BackendCodex:
		acc = addOAuthAccount(backend, config.CodexOAuth)
	case config.BackendCopilot:
		acc = addCopilotAccount(scanner)
	case config.BackendCursor:
		acc = addCursorAccount(scanner)
	}
	if acc == nil {
		return
	}

	accounts = upsert(accounts, acc)
	saveAccounts(backend, accounts, activeIndex)
	fmt.Printf("\n✓ Saved account %s\n", acc.DisplayName())
	displayAccounts(backend, accounts)
}

// addOAuthAccount walks the browser OAuth flow for cloudcode and codex.
func addOAuthAccount(backend config.Backend, settings config.OAuthSettings) *store.Account {
	fmt.Printf("\n=== Add %s Account ===\n", backend)
	fmt.Println("A browser window will open for sign-in; the URL is also printed")
	fmt.Println("below in case it does not.")

	flow := auth.NewFlow(settings)
	flow.AuthURLHook = openBrowser

	token, err := flow.Login(context.Background())
	if err != nil {
		fmt.Printf("\n✗ Authentication failed: %v\n", err)
		return nil
	}

	email := auth.IdentityFromIDToken(token.IDToken)
	acc := store.NewAccount(backend, email)
	acc.Credentials = *auth.CredentialsFromToken(token)

	fmt.Printf("\n✓ Successfully authenticated: %s\n", acc.DisplayName())
	return acc
}

// addCopilotAccount stores a long-lived GitHub device token; the proxy mints
// short-lived Copilot bearers from it at request time.
func addCopilotAccount(scanner *bufio.Scanner) *store.Account {
	fmt.Println("\n=== Add GitHub Copilot Account ===")
	fmt.Println("Paste the GitHub device token (ghu_... / gho_...) from an editor")
	fmt.Println("that is signed in to Copilot.")

	token := prompt(scanner, "Device token: ")
	if token == "" {
		fmt.Println("\n✗ No token provided.")
		return nil
	}
	label := prompt(scanner, "Label (optional): ")

	acc := store.NewAccount(config.BackendCopilot, "")
	acc.Label = label
	acc.Credentials.RefreshToken = token
	return acc
}

// addCursorAccount imports from the editor's local database, or accepts a
// pasted session token.
func addCursorAccount(scanner *bufio.Scanner) *store.Account {
	fmt.Println("\n=== Add Cursor Account ===")
	choice := prompt(scanner, "(i)mport from Cursor editor or (p)aste a token? [i/p]: ")

	if strings.ToLower(choice) != "p" {
		acc, err := auth.ImportCursorAccount()
		if err != nil {
			fmt.Printf("\n✗ Import failed: %v\n", err)
			fmt.Println("Run again and choose (p) to paste a token manually.")
			return nil
		}
		fmt.Printf("\n✓ Imported Cursor account %s\n", acc.DisplayName())
		return acc
	}

	token := prompt(scanner, "Session token: ")
	if token == "" {
		fmt.Println("\n✗ No token provided.")
		return nil
	}
	label := prompt(scanner, "Label (optional): ")

	acc := store.NewAccount(config.BackendCursor, "")
	acc.Label = label
	acc.Credentials.APIKey = token
	return acc
}

// importCursor is the non-interactive shortcut for the editor DB import.
func importCursor() {
	acc, err := auth.ImportCursorAccount()
	if err != nil {
		fmt.Printf("\n✗ Import failed: %v\n", err)
		os.Exit(1)
	}

	accounts, activeIndex := loadAccounts(config.BackendCursor)
	accounts = upsert(accounts, acc)
	saveAccounts(config.BackendCursor, accounts, activeIndex)
	fmt.Printf("\n✓ Imported Cursor account %s\n", acc.DisplayName())
}

// interactiveRemove removes accounts one at a time.
func interactiveRemove(scanner *bufio.Scanner, backend config.Backend) {
	for {
		accounts, activeIndex := loadAccounts(backend)
		if len(accounts) == 0 {
			fmt.Printf("\nNo %s accounts to remove.\n", backend)
			return
		}

		displayAccounts(backend, accounts)
		fmt.Println("\nEnter account number to remove (or 0 to cancel)")

		answer := prompt(scanner, "> ")
		index, err := strconv.Atoi(answer)
		if err != nil || index < 0 || index > len(accounts) {
			fmt.Println("\n❌ Invalid selection.")
			continue
		}
		if index == 0 {
			return
		}

		removed := accounts[index-1]
		confirm := prompt(scanner, fmt.Sprintf("\nAre you sure you want to remove %s? [y/N]: ", removed.DisplayName()))
		if strings.ToLower(confirm) == "y" {
			accounts = append(accounts[:index-1], accounts[index:]...)
			saveAccounts(backend, accounts, activeIndex)
			fmt.Printf("\n✓ Removed %s\n", removed.DisplayName())
		} else {
			fmt.Println("\nCancelled.")
		}

		removeMore := prompt(scanner, "\nRemove another account? [y/N]: ")
		if strings.ToLower(removeMore) != "y" {
			return
		}
	}
}

// listAccounts displays every backend's accounts.
func listAccounts() {
	for _, b := range config.Backends {
		accounts, _ := loadAccounts(b)
		displayAccounts(b, accounts)
	}
}

// clearAccounts removes all accounts of one backend.
func clearAccounts(scanner *bufio.Scanner, backend config.Backend) {
	accounts, _ := loadAccounts(backend)
	if len(accounts) == 0 {
		fmt.Printf("No %s accounts to clear.\n", backend)
		return
	}

	displayAccounts(backend, accounts)

	confirm := prompt(scanner, fmt.Sprintf("\nAre you sure you want to remove all %s accounts? [y/N]: ", backend))
	if strings.ToLower(confirm) == "y" {
		saveAccounts(backend, nil, 0)
		fmt.Println("All accounts removed.")
	} else {
		fmt.Println("Cancelled.")
	}
}
