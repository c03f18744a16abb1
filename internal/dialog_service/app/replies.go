package app

import (
	"fmt"
	"strings"
)

// Reply templates. The conversational channel only ever sees these texts plus
// the generic fallback; internal error detail never leaks to the end user.
const (
	replyCancelled        = "No problem, your booking request has been cancelled. Message us any time to start again."
	replyAskDateTime      = "Great choice, %s it is! When would you like to come in? For example: \"Tomorrow at 2 PM\" or \"2026-09-05 14:00\"."
	replyDateTimeExamples = "Sorry, I couldn't understand that date. Try something like \"Tomorrow at 2 PM\", \"Friday 10:30\" or \"2026-09-05 14:00\"."
	replyAskNewDateTime   = "Sure, let's pick another time. When suits you?"
	replyConfirmPrompt    = "You'd like to book for %s at %s. Reply \"confirm\" to book it or \"change\" to pick another time."
	replyConfirmRepeat    = "Just to check: %s on %s at %s. Reply \"confirm\" to book it or \"change\" to pick another time."
	replyBooked           = "You're all set! Your booking reference is %s. See you soon!"
	replyBookingRejected  = "Unfortunately that slot can't be booked. Reply \"change\" to pick another time."

	// ReplyFallback is the single generic message a user sees after retries
	// are exhausted.
	ReplyFallback = "Something went wrong on our side. Please try again in a few minutes or contact support."
)

func replyMenu(services []string) string {
	return "Hi! I can help you book an appointment. Just tell me you'd like to book, or reply with one of our services:\n" + numberedList(services)
}

func replyServiceList(services []string) string {
	return "Which service would you like?\n" + numberedList(services) + "\nReply with a number or the service name."
}

func replyServiceClarify(services []string) string {
	return "Sorry, I didn't catch that. Please pick one of:\n" + numberedList(services)
}

func numberedList(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	return strings.TrimRight(b.String(), "\n")
}
