package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	oauth "github.com/giantswarm/oauth-engine"
)

var tokenFlags struct {
	issuer       string
	clientID     string
	clientSecret string
	scopes       []string
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Request an access token with the client credentials grant",
	Long: `Request an access token from a running server with the client credentials
grant and print the token response as JSON. Useful to smoke-test a deployment.`,
	Example: `  oauth-server token --issuer http://localhost:8080 --client-id service --client-secret s3cret --scope read`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenFlags.clientID == "" || tokenFlags.clientSecret == "" {
			return errors.New("--client-id and --client-secret are required")
		}

		token, err := clientCredentialsConfig(tokenFlags.issuer, tokenFlags.clientID, tokenFlags.clientSecret, tokenFlags.scopes).
			Token(cmd.Context())
		if err != nil {
			return fmt.Errorf("token request failed: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tokenOutput{
			AccessToken: token.AccessToken,
			TokenType:   token.TokenType,
			Expiry:      token.Expiry,
			Scope:       fmt.Sprint(token.Extra("scope")),
		})
	},
}

type tokenOutput struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Expiry      time.Time `json:"expiry"`
	Scope       string    `json:"scope,omitempty"`
}

func clientCredentialsConfig(issuer, clientID, clientSecret string, scopes []string) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     strings.TrimSuffix(issuer, "/") + oauth.PathToken,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
}

func init() {
	flags := tokenCmd.Flags()
	flags.StringVar(&tokenFlags.issuer, "issuer", "http://localhost:8080", "Base URL of the server")
	flags.StringVar(&tokenFlags.clientID, "client-id", "", "Client ID")
	flags.StringVar(&tokenFlags.clientSecret, "client-secret", "", "Client secret")
	flags.StringSliceVar(&tokenFlags.scopes, "scope", nil, "Requested scope (repeatable)")
	rootCmd.AddCommand(tokenCmd)
}
