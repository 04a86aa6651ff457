package ingest

import (
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/pkg/graphmail"
)

// bodyDocumentName is the synthetic document name used when a message body
// stands in for a missing attachment.
const bodyDocumentName = "message_body.txt"

// SelectCandidates applies an account's filter rule to one fetched message
// and returns the documents to push through the pipeline, in attachment
// order.
func SelectCandidates(rule model.FilterRule, msg *graphmail.Message) []model.CandidateDocument {
	var candidates []model.CandidateDocument

	switch rule.Kind {
	case model.FilterByAttachmentExtension:
		for _, a := range msg.Attachments {
			if rule.MatchesExtension(a.Name) {
				candidates = append(candidates, model.CandidateDocument{Name: a.Name, Content: a.Content})
			}
		}

	case model.FilterWholeBodyAsDocument:
		if len(msg.Attachments) == 0 {
			if msg.BodyText != "" {
				candidates = append(candidates, model.CandidateDocument{
					Name:    bodyDocumentName,
					Content: []byte(msg.BodyText),
				})
			}
			break
		}
		for _, a := range msg.Attachments {
			if rule.MatchesExtension(a.Name) {
				candidates = append(candidates, model.CandidateDocument{Name: a.Name, Content: a.Content})
			}
		}

	case model.FilterCustom:
		if rule.Predicate == nil {
			break
		}
		for _, a := range msg.Attachments {
			if rule.Predicate(a.Name, a.Content) {
				candidates = append(candidates, model.CandidateDocument{Name: a.Name, Content: a.Content})
			}
		}
	}

	return candidates
}
