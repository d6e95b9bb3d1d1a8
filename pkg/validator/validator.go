// Package validator performs structural and security analysis of command
// batches before they reach the execution engine.
package validator

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/voyagent/voyagent/pkg/models"
)

const (
	DefaultMaxSelectorLength = 1024
	DefaultMaxBatchSize      = 50
	DefaultMaxWait           = 30 * time.Second
	DefaultMaxTimeout        = 5 * time.Minute
)

// xssIndicators are substrings that disqualify a locator outright.
var xssIndicators = []string{"<script", "onerror", "onload", "javascript:"}

// sensitiveKeywords trigger a non-blocking warning when present in free text.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"credit card", "card number", "cvv", "ssn", "social security",
}

// Config holds the validator's fixed rule tables. The zero value gets sane
// defaults from New.
type Config struct {
	AllowedSchemes    []string
	BlockedDomains    []string
	MaxSelectorLength int
	MaxBatchSize      int
	MaxWait           time.Duration
	MaxTimeout        time.Duration

	// ConfirmationRisk is the risk level at or above which the batch
	// requires explicit confirmation even without security issues.
	ConfirmationRisk models.RiskLevel
}

// Validator is stateless given its rule tables: validating the same batch
// twice yields identical results.
type Validator struct {
	cfg   Config
	rules []SecurityRule
}

// New creates a validator with the given config and security rules appended
// to the built-in rule set.
func New(cfg Config, rules ...SecurityRule) *Validator {
	if len(cfg.AllowedSchemes) == 0 {
		cfg.AllowedSchemes = []string{"http", "https"}
	}

	if cfg.MaxSelectorLength <= 0 {
		cfg.MaxSelectorLength = DefaultMaxSelectorLength
	}

	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}

	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}

	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = DefaultMaxTimeout
	}

	if cfg.ConfirmationRisk == "" {
		cfg.ConfirmationRisk = models.RiskHigh
	}

	return &Validator{
		cfg:   cfg,
		rules: append(builtinRules(), rules...),
	}
}

// Validate analyzes the batch against the rule tables and the optional
// execution context. The sanitized list is a copy of the accepted input.
func (v *Validator) Validate(commands []*models.StructuredCommand, ectx *models.ExecutionContext) *models.ValidationResult {
	result := &models.ValidationResult{Risk: models.RiskLow}

	if len(commands) == 0 {
		result.Errors = append(result.Errors, "command batch is empty")

		return result
	}

	if len(commands) > v.cfg.MaxBatchSize {
		result.Errors = append(result.Errors,
			fmt.Sprintf("command batch exceeds the %d-command ceiling", v.cfg.MaxBatchSize))

		return result
	}

	for i, command := range commands {
		if command == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("command %d is missing", i))

			continue
		}

		v.checkStructure(command, i, result)
		v.checkParameters(command, i, result)
		v.checkSensitiveValues(command, result)
		v.runSecurityRules(command, result)
		v.checkContextConsistency(command, ectx, result)
	}

	result.Risk = v.computeRisk(commands, result.SecurityIssues)
	result.Valid = len(result.Errors) == 0
	result.RequiresConfirmation = v.requiresConfirmation(result)

	if result.Valid {
		result.Sanitized = make([]*models.StructuredCommand, 0, len(commands))
		for _, command := range commands {
			result.Sanitized = append(result.Sanitized, command.Clone())
		}
	}

	return result
}

// checkStructure verifies the required fields for the command's type, using
// the per-type JSON Schemas.
func (v *Validator) checkStructure(command *models.StructuredCommand, index int, result *models.ValidationResult) {
	if command.Type == "" {
		result.Errors = append(result.Errors, fmt.Sprintf("command %d has no type", index))

		return
	}

	if !command.HasParams() {
		result.Errors = append(result.Errors,
			fmt.Sprintf("command %d (%s) is missing its %s parameters", index, command.Type, command.Type))

		return
	}

	for _, issue := range validateSchema(command) {
		result.Errors = append(result.Errors,
			fmt.Sprintf("command %d (%s): %s", index, command.Type, issue))
	}
}

// checkParameters applies the URL, locator, and numeric rule tables.
func (v *Validator) checkParameters(command *models.StructuredCommand, index int, result *models.ValidationResult) {
	if command.Type == models.CommandNavigate && command.Navigate != nil {
		v.checkURL(command, index, command.Navigate.URL, result)
	}

	if locator := command.Locator(); locator != "" && command.Type != models.CommandNavigate {
		v.checkLocator(command, index, locator, result)
	}

	if command.Type == models.CommandWait && command.Wait != nil {
		if command.Wait.DurationMs < 0 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("command %d (wait): duration must be non-negative", index))
		} else if time.Duration(command.Wait.DurationMs)*time.Millisecond > v.cfg.MaxWait {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("command %d (wait): duration exceeds %s", index, v.cfg.MaxWait))
		}
	}

	if command.Timeout < 0 {
		result.Errors = append(result.Errors,
			fmt.Sprintf("command %d (%s): timeout must be non-negative", index, command.Type))
	} else if command.Timeout > v.cfg.MaxTimeout {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("command %d (%s): timeout exceeds %s", index, command.Type, v.cfg.MaxTimeout))
	}
}

func (v *Validator) checkURL(command *models.StructuredCommand, index int, rawURL string, result *models.ValidationResult) {
	lower := strings.ToLower(strings.TrimSpace(rawURL))

	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "data:") {
		result.Errors = append(result.Errors,
			fmt.Sprintf("command %d (navigate): %q URLs are not allowed", index, lower[:strings.Index(lower, ":")+1]))
		result.SecurityIssues = append(result.SecurityIssues, models.SecurityIssue{
			Rule:      "url-scheme",
			Severity:  models.SeverityError,
			Message:   "script-bearing URL scheme rejected",
			CommandID: command.ID,
		})

		return
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("command %d (navigate): invalid URL: %v", index, err))

		return
	}

	allowed := false

	for _, scheme := range v.cfg.AllowedSchemes {
		if parsed.Scheme == scheme {
			allowed = true

			break
		}
	}

	if !allowed {
		result.Errors = append(result.Errors,
			fmt.Sprintf("command %d (navigate): scheme %q is not allowed", index, parsed.Scheme))
	}

	host := strings.ToLower(parsed.Hostname())

	for _, blocked := range v.cfg.BlockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("command %d (navigate): domain %q is blocked", index, host))
			result.SecurityIssues = append(result.SecurityIssues, models.SecurityIssue{
				Rule:      "blocked-domain",
				Severity:  models.SeverityError,
				Message:   fmt.Sprintf("domain %q is on the block list", host),
				CommandID: command.ID,
			})

			break
		}
	}
}

func (v *Validator) checkLocator(command *models.StructuredCommand, index int, locator string, result *models.ValidationResult) {
	if len(locator) > v.cfg.MaxSelectorLength {
		result.Errors = append(result.Errors,
			fmt.Sprintf("command %d (%s): selector exceeds %d characters", index, command.Type, v.cfg.MaxSelectorLength))
	}

	lower := strings.ToLower(locator)

	for _, indicator := range xssIndicators {
		if strings.Contains(lower, indicator) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("command %d (%s): selector contains %q", index, command.Type, indicator))
			result.SecurityIssues = append(result.SecurityIssues, models.SecurityIssue{
				Rule:      "xss-selector",
				Severity:  models.SeverityError,
				Message:   fmt.Sprintf("selector contains script-injection indicator %q", indicator),
				CommandID: command.ID,
			})

			break
		}
	}
}

// checkSensitiveValues matches free text against the sensitive keyword
// table. Findings warn but never block.
func (v *Validator) checkSensitiveValues(command *models.StructuredCommand, result *models.ValidationResult) {
	text := strings.ToLower(command.FreeText())
	if text == "" {
		return
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(text, keyword) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("command %s value appears to contain sensitive data (%q)", command.Type, keyword))

			return
		}
	}
}

func (v *Validator) runSecurityRules(command *models.StructuredCommand, result *models.ValidationResult) {
	for _, rule := range v.rules {
		issue, ok := rule.Check(command)
		if ok {
			continue
		}

		issue.Rule = rule.Name()
		issue.CommandID = command.ID

		switch issue.Severity {
		case models.SeverityError:
			result.Errors = append(result.Errors, issue.Message)
			result.SecurityIssues = append(result.SecurityIssues, issue)
		default:
			result.Warnings = append(result.Warnings, issue.Message)
		}
	}
}

// checkContextConsistency cross-checks commands against the known state of
// the target surface. Findings warn but never block.
func (v *Validator) checkContextConsistency(command *models.StructuredCommand, ectx *models.ExecutionContext, result *models.ValidationResult) {
	if ectx == nil {
		return
	}

	if command.Type == models.CommandNavigate && command.Navigate != nil &&
		ectx.CurrentURL != "" && command.Navigate.URL == ectx.CurrentURL {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("navigate target %q is already the current page", ectx.CurrentURL))
	}

	if locator := command.Locator(); locator != "" && command.Type != models.CommandNavigate &&
		len(ectx.KnownElements) > 0 && !ectx.KnowsElement(locator) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("locator %q is not among the context's known elements", locator))
	}
}

// computeRisk scores the batch from its security issues and command types.
// State-mutating types outweigh read-only ones.
func (v *Validator) computeRisk(commands []*models.StructuredCommand, issues []models.SecurityIssue) models.RiskLevel {
	score := 0

	for _, command := range commands {
		if command == nil {
			continue
		}

		if command.Type.Mutating() {
			score += 2
		} else {
			score++
		}
	}

	for _, issue := range issues {
		if issue.Severity == models.SeverityError {
			score += 10
		} else {
			score += 3
		}
	}

	switch {
	case score >= 20:
		return models.RiskCritical
	case score >= 10:
		return models.RiskHigh
	case score >= 5:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (v *Validator) requiresConfirmation(result *models.ValidationResult) bool {
	if len(result.SecurityIssues) > 0 {
		return true
	}

	return result.Risk.Rank() >= v.cfg.ConfirmationRisk.Rank()
}
