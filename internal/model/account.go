package model

import (
	"path/filepath"
	"strings"
	"time"
)

// EmailAccount is a polled mailbox registered for ingestion.
type EmailAccount struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	OrdersActive bool      `json:"orders_active"`
	OffersActive bool      `json:"offers_active"`
	OrdersFilter string    `json:"orders_filter,omitempty"`
	OffersFilter string    `json:"offers_filter,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Active reports whether the account participates in any ingestion flow.
func (a EmailAccount) Active() bool {
	return a.OrdersActive || a.OffersActive
}

// FilterKind tags a FilterRule variant.
type FilterKind string

const (
	// FilterByAttachmentExtension keeps attachments whose name carries a
	// recognized document extension.
	FilterByAttachmentExtension FilterKind = "by_attachment_extension"
	// FilterWholeBodyAsDocument behaves like FilterByAttachmentExtension but,
	// when a message has no attachments, treats the message body as a single
	// text document.
	FilterWholeBodyAsDocument FilterKind = "whole_body_as_document"
	// FilterCustom delegates candidate selection to a predicate.
	FilterCustom FilterKind = "custom"
)

// CandidateDocument is one document extracted from an inbound message.
type CandidateDocument struct {
	Name    string
	Content []byte
}

// FilterRule selects candidate documents from a message. Rules are resolved
// once per account from the policy table; behavior differences between
// accounts live here rather than in inline address comparisons.
type FilterRule struct {
	Kind       FilterKind
	Extensions []string                              // recognized extensions, e.g. ".pdf"
	Predicate  func(name string, content []byte) bool // FilterCustom only
}

// DefaultFilterRule keeps every attachment with a recognized document
// extension and never falls back to the message body.
func DefaultFilterRule() FilterRule {
	return FilterRule{
		Kind:       FilterByAttachmentExtension,
		Extensions: []string{".pdf"},
	}
}

// MatchesExtension reports whether name carries one of the rule's
// recognized extensions (case-insensitive).
func (r FilterRule) MatchesExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range r.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// ApprovalPolicy governs what happens after an order is created for a given
// owner. Auto-approved owners have every new order approved, and integrated
// inline, as part of creation.
type ApprovalPolicy struct {
	AutoApprove bool
}
