package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	classifier := NewKeywordClassifier()

	cases := []struct {
		text string
		want Intent
	}{
		{"I want to book an appointment", IntentBooking},
		{"Reserve a table please", IntentBooking},
		{"yes", IntentConfirm},
		{"Confirm!", IntentConfirm},
		{"ok.", IntentConfirm},
		{"change", IntentChange},
		{"another time would be better", IntentChange},
		{"cancel", IntentCancel},
		{"never mind", IntentCancel},
		{"what is the weather", IntentUnknown},
		// "yesterday" must not read as an affirmation.
		{"yesterday", IntentUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got, confidence, err := classifier.Classify(context.Background(), tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			if tc.want == IntentUnknown {
				assert.Zero(t, confidence)
			} else {
				assert.Greater(t, confidence, 0.5)
			}
		})
	}
}
