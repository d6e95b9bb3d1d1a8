package validator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/voyagent/voyagent/pkg/models"
)

// SecurityRule is a pluggable policy check applied to every command in a
// batch. Check returns ok=true when the command passes; otherwise the
// returned issue's severity decides whether validation fails (error) or
// only warns (warning).
type SecurityRule interface {
	Name() string
	Check(command *models.StructuredCommand) (models.SecurityIssue, bool)
}

// RuleFunc adapts a function to the SecurityRule interface.
type RuleFunc struct {
	RuleName string
	Fn       func(command *models.StructuredCommand) (models.SecurityIssue, bool)
}

func (r RuleFunc) Name() string {
	return r.RuleName
}

func (r RuleFunc) Check(command *models.StructuredCommand) (models.SecurityIssue, bool) {
	return r.Fn(command)
}

func builtinRules() []SecurityRule {
	return []SecurityRule{
		RuleFunc{
			RuleName: "no-credentials-in-url",
			Fn:       checkNoCredentialsInURL,
		},
		RuleFunc{
			RuleName: "no-file-upload",
			Fn:       checkNoFileUpload,
		},
	}
}

// checkNoCredentialsInURL rejects navigation URLs carrying userinfo, which
// would leak credentials into history and logs.
func checkNoCredentialsInURL(command *models.StructuredCommand) (models.SecurityIssue, bool) {
	if command.Type != models.CommandNavigate || command.Navigate == nil {
		return models.SecurityIssue{}, true
	}

	parsed, err := url.Parse(command.Navigate.URL)
	if err != nil || parsed.User == nil {
		return models.SecurityIssue{}, true
	}

	return models.SecurityIssue{
		Severity: models.SeverityError,
		Message:  "navigation URL embeds credentials",
	}, false
}

// checkNoFileUpload warns on fill values that look like local file paths,
// since uploads cannot be confirmed remotely.
func checkNoFileUpload(command *models.StructuredCommand) (models.SecurityIssue, bool) {
	if command.Type != models.CommandFill || command.Fill == nil {
		return models.SecurityIssue{}, true
	}

	value := command.Fill.Value
	if strings.HasPrefix(value, "/") || strings.HasPrefix(value, "file://") ||
		strings.HasPrefix(value, "C:\\") {
		return models.SecurityIssue{
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("fill value %q looks like a local file path", value),
		}, false
	}

	return models.SecurityIssue{}, true
}
