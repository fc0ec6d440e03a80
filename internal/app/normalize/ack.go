package normalize

import (
	"strings"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Phrases brokers put in otherwise unstructured acknowledgements.
var (
	PlacePhrases  = []string{"order placed", "order received", "successfully placed"}
	CancelPhrases = []string{"cancel order request sent", "cancelled successfully", "cancellation request", "already cancelled"}
	ModifyPhrases = []string{"modify order request sent", "order modified", "modification request"}
)

// Accepted reports whether ack means the broker took the request: the
// adapter's success flag, one of phrases in the message, or an empty 2xx body.
func Accepted(ack schema.Ack, phrases ...string) bool {
	if ack.Success {
		return true
	}
	if msg := strings.ToLower(ack.Message); msg != "" {
		for _, p := range phrases {
			if strings.Contains(msg, p) {
				return true
			}
		}
	}
	return ack.Empty && ack.HTTPStatus >= 200 && ack.HTTPStatus < 300
}

// AckText renders a short description of an acknowledgement for status messages.
func AckText(ack schema.Ack) string {
	parts := make([]string, 0, 3)
	if ack.OrderID != "" {
		parts = append(parts, "order "+ack.OrderID)
	}
	if ack.Status != "" {
		parts = append(parts, ack.Status)
	}
	if ack.Message != "" {
		parts = append(parts, ack.Message)
	}
	if len(parts) == 0 {
		if ack.Empty && ack.HTTPStatus > 0 {
			return "http " + itoa(ack.HTTPStatus)
		}
		return "no response"
	}
	return strings.Join(parts, " ")
}
