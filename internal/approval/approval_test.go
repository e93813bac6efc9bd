package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlflow/hitlflow/internal/domain"
)

func TestRequest_RoundTrip(t *testing.T) {
	cases := map[string]*Request{
		"pending single": NewRequest("Review the generated content before saving.",
			NewAction("content", "Review Content", "draft A")),
		"edited with feedback": {
			Message: "Confirm 2 actions",
			Actions: []Action{
				{Name: "update_title", Label: "Rename page", Payload: `{"title":"x"}`, Decision: Edited, Feedback: Text("y")},
				{Name: "publish", Label: "Execute: publish", Payload: `{}`, Decision: Rejected},
			},
		},
		"edited with empty feedback": {
			Message: "m",
			Actions: []Action{{Name: "a", Decision: Edited, Feedback: Text("")}},
		},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			payload, err := req.Encode()
			require.NoError(t, err)

			got, err := Decode(payload)
			require.NoError(t, err)
			assert.Equal(t, req, got)
		})
	}
}

func TestRequest_FeedbackAbsentStaysAbsent(t *testing.T) {
	payload, err := NewRequest("m", NewAction("a", "A", "p")).Encode()
	require.NoError(t, err)
	assert.NotContains(t, payload, "feedback")

	got, err := Decode(payload)
	require.NoError(t, err)
	assert.Nil(t, got.Actions[0].Feedback)
}

func TestDecode_Invalid(t *testing.T) {
	for name, payload := range map[string]string{
		"empty":       "",
		"not json":    "{nope",
		"no actions":  `{"message":"m","actions":[]}`,
		"no name":     `{"message":"m","actions":[{"label":"x"}]}`,
		"bad verdict": `{"message":"m","actions":[{"name":"a","decision":"maybe"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload)
			assert.ErrorIs(t, err, domain.ErrInvalidPayload)
		})
	}
}

func TestRequest_GetAction(t *testing.T) {
	req := NewRequest("m", NewAction("a", "A", "1"), NewAction("b", "B", "2"))

	b, ok := req.GetAction("b")
	require.True(t, ok)
	assert.Equal(t, "2", b.Payload)

	_, ok = req.GetAction("c")
	assert.False(t, ok)
}

func TestApply_PerActionDecisions(t *testing.T) {
	req := NewRequest("m", NewAction("a", "A", "1"), NewAction("b", "B", "2"))

	decided, err := Apply(req, Decisions{
		"a": {Decision: Edited, Feedback: Text("new")},
		"b": {Decision: Rejected, Feedback: Text("ignored")},
	})
	require.NoError(t, err)

	a, _ := decided.GetAction("a")
	assert.Equal(t, Edited, a.Decision)
	assert.Equal(t, "new", a.FeedbackText())

	b, _ := decided.GetAction("b")
	assert.Equal(t, Rejected, b.Decision)
	assert.Nil(t, b.Feedback)

	assert.True(t, decided.Rejected())
	assert.Len(t, decided.Proceeding(), 1)

	// The input is never mutated.
	orig, _ := req.GetAction("a")
	assert.Equal(t, Pending, orig.Decision)
}

func TestApply_ContractViolations(t *testing.T) {
	req := NewRequest("m", NewAction("a", "A", "1"), NewAction("b", "B", "2"))

	_, err := Apply(req, Decisions{"a": {Decision: Approved}})
	assert.ErrorIs(t, err, domain.ErrActionPending)

	_, err = Apply(req, Decisions{"a": {Decision: Approved}, "b": {Decision: Pending}})
	assert.ErrorIs(t, err, domain.ErrActionPending)

	_, err = Apply(req, Decisions{"a": {Decision: Approved}, "b": {Decision: Approved}, "zzz": {Decision: Approved}})
	assert.ErrorIs(t, err, domain.ErrUnknownAction)
}

func TestApply_EditFeedbackPresence(t *testing.T) {
	req := NewRequest("m", NewAction("absent", "A", "1"), NewAction("empty", "B", "2"))

	decided, err := Apply(req, Decisions{
		"absent": {Decision: Edited},
		"empty":  {Decision: Edited, Feedback: Text("")},
	})
	require.NoError(t, err)

	absent, _ := decided.GetAction("absent")
	assert.Nil(t, absent.Feedback)

	empty, _ := decided.GetAction("empty")
	require.NotNil(t, empty.Feedback)
	assert.Equal(t, "", *empty.Feedback)
}

func TestDecideAll(t *testing.T) {
	req := NewRequest("m", NewAction("a", "A", "1"), NewAction("b", "B", "2"))

	decided, err := Apply(req, DecideAll(req.Names(), Approved, ""))
	require.NoError(t, err)
	assert.False(t, decided.Rejected())
	assert.Len(t, decided.Proceeding(), 2)
}
