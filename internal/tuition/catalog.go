// Package tuition implements the callable tools exposed to the model:
// a balance lookup and a payment submission against the external tuition
// backend.
package tuition

import "google.golang.org/genai"

// Tool names the model may request.
const (
	ToolCheckTuition = "check_tuition"
	ToolPayTuition   = "pay_tuition"
)

// Declarations returns the static tool catalog passed verbatim to the model
// on every request. The schemas mark student_id (and amount, for payments)
// as required so the model asks for them instead of guessing.
func Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        ToolCheckTuition,
			Description: "Look up the current tuition balance for a student.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"student_id": {
						Type:        genai.TypeString,
						Description: "The student's university ID, e.g. S1042.",
					},
				},
				Required: []string{"student_id"},
			},
		},
		{
			Name:        ToolPayTuition,
			Description: "Submit a tuition payment on behalf of a student.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"student_id": {
						Type:        genai.TypeString,
						Description: "The student's university ID, e.g. S1042.",
					},
					"amount": {
						Type:        genai.TypeNumber,
						Description: "The payment amount in the account currency.",
					},
				},
				Required: []string{"student_id", "amount"},
			},
		},
	}
}
