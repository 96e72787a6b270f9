package ui

import (
	stderrors "errors"
	"fmt"
	"strings"

	"paypipe/internal/pipeline/domain"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user leaves a prompt with Ctrl-C or Ctrl-D
var ErrAborted = stderrors.New("prompt aborted")

// TokenOperationChoice is one entry of the operation picker
type TokenOperationChoice struct {
	Operation string
	Label     string
	// NeedsToken is true when the operation acts on an existing token
	NeedsToken bool
}

// TokenOperations lists the operations offered by the picker. An empty
// operation runs the pipeline without a token step.
var TokenOperations = []TokenOperationChoice{
	{Operation: "", Label: "None (plain payment)"},
	{Operation: domain.OpGenerateToken, Label: "Generate offline token"},
	{Operation: domain.OpRedeemToken, Label: "Redeem token", NeedsToken: true},
	{Operation: domain.OpValidateToken, Label: "Validate token", NeedsToken: true},
	{Operation: domain.OpCancelToken, Label: "Cancel token", NeedsToken: true},
}

var selectTemplates = &promptui.SelectTemplates{
	Label:    "{{ . }}?",
	Active:   `{{ "✔" | cyan }} {{ . | cyan }}`,
	Inactive: `  {{ . }}`,
	Selected: `{{ "✔" | green }} {{ . | green }}`,
}

// PickTokenOperation asks which token operation the run should perform
func PickTokenOperation() (TokenOperationChoice, error) {
	items := make([]string, len(TokenOperations))
	for i, op := range TokenOperations {
		items[i] = op.Label
	}

	prompt := promptui.Select{
		Label:     "Select a token operation",
		Items:     items,
		Size:      len(items),
		Templates: selectTemplates,
	}
	index, _, err := prompt.Run()
	if err != nil {
		return TokenOperationChoice{}, promptError(err)
	}
	return TokenOperations[index], nil
}

// PromptToken asks for a token string
func PromptToken() (string, error) {
	prompt := promptui.Prompt{
		Label: "Token",
		Validate: func(input string) error {
			if !strings.HasPrefix(strings.TrimSpace(input), "OT-") {
				return fmt.Errorf("tokens start with OT-")
			}
			return nil
		},
	}
	token, err := prompt.Run()
	if err != nil {
		return "", promptError(err)
	}
	return strings.TrimSpace(token), nil
}

// Confirm asks a yes/no question
func Confirm(label string) (bool, error) {
	prompt := promptui.Select{
		Label: label,
		Items: []string{"Yes", "No"},
	}
	_, result, err := prompt.Run()
	if err != nil {
		return false, promptError(err)
	}
	return result == "Yes", nil
}

func promptError(err error) error {
	if err == promptui.ErrEOF || err == promptui.ErrInterrupt {
		return ErrAborted
	}
	return err
}
