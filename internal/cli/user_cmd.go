package cli

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// userCmd represents the user command group
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management",
	Long:  `Manage users: create users, list users, and reset user passwords.`,
}

// userCreateCmd creates a new user
var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	Long:  `Interactively create a new user with an email address and password.`,
	Run: func(cmd *cobra.Command, args []string) {
		if userService == nil {
			fmt.Fprintln(os.Stderr, "Error: user service not initialized")
			os.Exit(1)
		}

		reader := bufio.NewReader(os.Stdin)

		fmt.Print("Email address: ")
		email, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read input: %v\n", err)
			os.Exit(1)
		}
		email = strings.TrimSpace(email)
		if email == "" {
			fmt.Fprintln(os.Stderr, "Error: email must not be empty")
			os.Exit(1)
		}

		fmt.Print("Password (at least 6 characters): ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: failed to read password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		password := string(passwordBytes)
		if len(password) < 6 {
			fmt.Fprintln(os.Stderr, "Error: password must be at least 6 characters")
			os.Exit(1)
		}

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: failed to read password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		if password != string(confirmBytes) {
			fmt.Fprintln(os.Stderr, "Error: passwords do not match")
			os.Exit(1)
		}

		fmt.Print("First name (optional): ")
		firstName, _ := reader.ReadString('\n')
		firstName = strings.TrimSpace(firstName)

		fmt.Print("Last name (optional): ")
		lastName, _ := reader.ReadString('\n')
		lastName = strings.TrimSpace(lastName)

		newUser, err := userService.Register(email, password, firstName, lastName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create user: %v\n", err)
			os.Exit(1)
		}

		fmt.Println()
		fmt.Println("User created.")
		fmt.Printf("  ID: %d\n", newUser.ID)
		fmt.Printf("  Email: %s\n", newUser.Email)
	},
}

// userListCmd lists all users
var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	Run: func(cmd *cobra.Command, args []string) {
		if userService == nil {
			fmt.Fprintln(os.Stderr, "Error: user service not initialized")
			os.Exit(1)
		}

		users, err := userService.ListUsers()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list users: %v\n", err)
			os.Exit(1)
		}

		if len(users) == 0 {
			fmt.Println("No users yet.")
			return
		}

		fmt.Println("Users:")
		fmt.Println("----------------------------------------")
		fmt.Printf("%-6s %-30s %-10s %s\n", "ID", "Email", "Role", "Created")
		fmt.Println("----------------------------------------")
		for _, u := range users {
			createdAt := u.CreatedAt.Format("2006-01-02 15:04:05")
			fmt.Printf("%-6d %-30s %-10s %s\n", u.ID, u.Email, u.Role, createdAt)
		}
		fmt.Println("----------------------------------------")
		fmt.Printf("%d users total\n", len(users))
	},
}

// userResetPwdCmd resets a user's password
var userResetPwdCmd = &cobra.Command{
	Use:   "reset-pwd",
	Short: "Reset a user's password",
	Long:  `Interactively reset the password of a user. Asks for confirmation.`,
	Run: func(cmd *cobra.Command, args []string) {
		if userService == nil {
			fmt.Fprintln(os.Stderr, "Error: user service not initialized")
			os.Exit(1)
		}

		reader := bufio.NewReader(os.Stdin)

		users, err := userService.ListUsers()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list users: %v\n", err)
			os.Exit(1)
		}

		if len(users) == 0 {
			fmt.Println("No users yet.")
			return
		}

		fmt.Println("Available users:")
		for _, u := range users {
			fmt.Printf("  [%d] %s\n", u.ID, u.Email)
		}
		fmt.Println()

		fmt.Print("User ID to reset: ")
		idStr, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read input: %v\n", err)
			os.Exit(1)
		}
		idStr = strings.TrimSpace(idStr)
		userID, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error: invalid user ID")
			os.Exit(1)
		}

		targetUser, err := userService.GetUser(uint(userID))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: user not found: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\nWarning: this resets the password of '%s' (ID: %d).\n", targetUser.Email, targetUser.ID)
		fmt.Print("Continue? (yes/no): ")
		confirm, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read input: %v\n", err)
			os.Exit(1)
		}
		confirm = strings.TrimSpace(strings.ToLower(confirm))
		if confirm != "yes" && confirm != "y" {
			fmt.Println("Cancelled.")
			return
		}

		fmt.Print("New password (at least 6 characters): ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: failed to read password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		newPassword := string(passwordBytes)
		if len(newPassword) < 6 {
			fmt.Fprintln(os.Stderr, "Error: password must be at least 6 characters")
			os.Exit(1)
		}

		fmt.Print("Confirm new password: ")
		confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: failed to read password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		if newPassword != string(confirmBytes) {
			fmt.Fprintln(os.Stderr, "Error: passwords do not match")
			os.Exit(1)
		}

		if err := userService.ResetPassword(uint(userID), newPassword); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to reset password: %v\n", err)
			os.Exit(1)
		}

		fmt.Println()
		fmt.Printf("Password for '%s' has been reset.\n", targetUser.Email)
	},
}

// userDeleteCmd marks a user as deleted
var userDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a user",
	Long:  `Interactively delete a user. The account is deactivated, not removed; asks for confirmation.`,
	Run: func(cmd *cobra.Command, args []string) {
		if userService == nil {
			fmt.Fprintln(os.Stderr, "Error: user service not initialized")
			os.Exit(1)
		}

		reader := bufio.NewReader(os.Stdin)

		users, err := userService.ListUsers()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list users: %v\n", err)
			os.Exit(1)
		}

		if len(users) == 0 {
			fmt.Println("No users yet.")
			return
		}

		fmt.Println("Available users:")
		for _, u := range users {
			fmt.Printf("  [%d] %s\n", u.ID, u.Email)
		}
		fmt.Println()

		fmt.Print("User ID to delete: ")
		idStr, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read input: %v\n", err)
			os.Exit(1)
		}
		idStr = strings.TrimSpace(idStr)
		userID, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error: invalid user ID")
			os.Exit(1)
		}

		targetUser, err := userService.GetUser(uint(userID))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: user not found: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\nWarning: this deactivates the account '%s' (ID: %d). The user can no longer sign in.\n", targetUser.Email, targetUser.ID)
		fmt.Print("Continue? (yes/no): ")
		confirm, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read input: %v\n", err)
			os.Exit(1)
		}
		confirm = strings.TrimSpace(strings.ToLower(confirm))
		if confirm != "yes" && confirm != "y" {
			fmt.Println("Cancelled.")
			return
		}

		if err := userService.DeleteUser(uint(userID)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to delete user: %v\n", err)
			os.Exit(1)
		}

		fmt.Println()
		fmt.Printf("User '%s' has been deleted.\n", targetUser.Email)
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userResetPwdCmd)
	userCmd.AddCommand(userDeleteCmd)
}
