// Package locales maps message keys to user-facing chat text. The
// catalog is a flat YAML file of key -> template, with %s slots filled
// positionally.
package locales

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Locales struct {
	messages map[string]string
}

// Load reads the catalog at path. An empty path yields the built-in
// English defaults; a file overlays them key by key.
func Load(path string) (*Locales, error) {
	l := &Locales{messages: defaults()}
	if strings.TrimSpace(path) == "" {
		return l, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	overlay := map[string]string{}
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return nil, fmt.Errorf("locales: %w", err)
	}
	for k, v := range overlay {
		l.messages[k] = v
	}
	return l, nil
}

// Get renders the message for key, substituting args into %s slots.
// Unknown keys render as the key itself so a missing translation is
// visible rather than silent.
func (l *Locales) Get(key string, args ...any) string {
	tmpl, ok := l.messages[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

func defaults() map[string]string {
	return map[string]string{
		"error_already_in_town":         "You are already in a town.",
		"error_not_in_town":             "You are not in a town.",
		"error_not_town_mayor":          "Only the mayor of %s can do that.",
		"error_invalid_town_name":       "That town name is not allowed.",
		"error_town_name_taken":         "A town called %s already exists.",
		"error_insufficient_privileges": "You lack the privilege to do that in %s.",
		"error_user_not_found":          "Could not find a player named %s.",
		"error_other_already_in_town":   "That player is already in a town.",
		"error_no_invites":              "You have no pending invites.",
		"error_town_gone":               "That town no longer exists.",
		"error_claim_limit":             "Your town cannot claim any more chunks.",
		"error_chunk_claimed":           "That chunk is already claimed by %s.",
		"error_claim_not_found":         "There is no claim in that chunk.",
		"error_claim_not_yours":         "That claim belongs to %s.",
		"error_not_a_plot":              "That claim is not a plot.",
		"error_invalid_amount":          "That amount is not valid.",
		"error_internal":                "Something went wrong; try again.",
		"town_created":                  "Town %s founded.",
		"town_deleted":                  "Town %s disbanded.",
		"town_renamed":                  "Your town is now called %s.",
		"town_spawn_set":                "Town spawn updated.",
		"town_spawn_cleared":            "Town spawn cleared.",
		"town_bank_deposit":             "Deposited %s into the town bank.",
		"invite_sent":                   "Invited %s to join %s.",
		"invite_received":               "%s has invited you to join %s.",
		"invite_buttons":                "Type /town accept or /town decline to reply to %s.",
		"invite_accepted":               "Welcome to %s!",
		"invite_declined":               "Declined the invite from %s.",
		"member_removed":                "Removed %s from the town.",
		"member_left_notice":            "You have been removed from %s.",
		"claim_created":                 "Claimed chunk %s.",
		"claim_deleted":                 "Unclaimed chunk %s.",
		"claims_cleared":                "Removed %s claims.",
		"claim_retyped":                 "Claim at %s is now a %s.",
		"plot_member_added":             "%s can now build on this plot.",
		"plot_member_removed":           "%s can no longer build on this plot.",
	}
}
