package scoring

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	maxBodyChars     = 500
	maxPromptedTests = 10
	maxListedFiles   = 10
)

var (
	passedPattern = regexp.MustCompile(`(\d+)\s+passed`)
	failedPattern = regexp.MustCompile(`(\d+)\s+failed`)
)

// buildPrompt renders the structured analysis prompt for the LLM.
func buildPrompt(input *Input) string {
	var b strings.Builder

	body := input.Body
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}

	findingsJSON, _ := json.MarshalIndent(input.Findings, "", "  ")
	passed, failed := extractTestCounts(testRunOutput(input))

	fmt.Fprintf(&b, "Analyze this pull request and provide a risk assessment.\n\n")
	fmt.Fprintf(&b, "PR Information:\n- Title: %s\n- Description: %s\n- Code Type: %s\n\n",
		input.Title, body, classifyCodeType(input.Files))
	fmt.Fprintf(&b, "Review Findings (%d):\n%s\n\n", len(input.Findings), findingsJSON)
	fmt.Fprintf(&b, "Generated Tests (showing first %d with code):\n%s\n\n",
		maxPromptedTests, formatGeneratedTests(input))
	fmt.Fprintf(&b, "Sandbox Test Results:\n%s\n", formatTestRun(input, passed, failed))
	fmt.Fprintf(&b, "\nChanged Files (%d):\n%s\n\n", len(input.Files), listFiles(input.Files))

	b.WriteString(responseSchema)
	return b.String()
}

// responseSchema instructs the model to answer in the exact JSON shape
// parseResponse validates.
const responseSchema = `Provide a JSON response with the following structure:
{
  "risk": <number 0-100>,
  "confidence": <number 0-100>,
  "reasoning": "<explanation>",
  "riskCategories": {
    "security": <number 0-100>,
    "performance": <number 0-100>,
    "maintainability": <number 0-100>,
    "reliability": <number 0-100>,
    "compatibility": <number 0-100>
  },
  "specificRisks": [
    {
      "category": "<security|performance|maintainability|reliability|compatibility>",
      "severity": "<critical|high|medium|low>",
      "description": "<specific risk description>",
      "impact": "<what could go wrong>",
      "recommendation": "<how to mitigate>"
    }
  ],
  "reviewUpdates": {
    "<finding_name>": {
      "risk": <number 0-100>,
      "type": "<danger|warning|success>",
      "description": "<updated description with specific risk details>"
    }
  }
}

Risk Assessment Guidelines:
- Critical (80-100): authentication, database operations, payment processing, security-sensitive code
- High (60-79): API endpoints, data validation, file operations
- Medium (40-59): business logic, utilities, helpers
- Low (0-39): UI changes, documentation, configuration

Confidence Guidelines:
- High (80-100): many tests passed, comprehensive coverage
- Medium (50-79): some tests passed, moderate coverage
- Low (0-49): few or no tests passed, limited coverage

The reviewUpdates keys must match the finding names provided above.
Provide at least 3 specific risks covering different categories when possible.`

func formatTestRun(input *Input, passed, failed int) string {
	if input.TestRun == nil {
		return "- Status: no_tests\n- No tests were run"
	}

	exitCode := "N/A"
	if input.TestRun.ExitCode != nil {
		exitCode = strconv.Itoa(*input.TestRun.ExitCode)
	}

	return fmt.Sprintf("- Status: %s\n- Exit Code: %s\n- Passed: %d\n- Failed: %d\n- Output:\n%s",
		input.TestRun.Status, exitCode, passed, failed, input.TestRun.Output)
}

func formatGeneratedTests(input *Input) string {
	if len(input.GeneratedTests) == 0 {
		return "No tests generated"
	}

	shown := input.GeneratedTests
	if len(shown) > maxPromptedTests {
		shown = shown[:maxPromptedTests]
	}

	var b strings.Builder
	for i, test := range shown {
		fmt.Fprintf(&b, "Test %d: %s\nReason: %s\nCode:\n%s\n---\n", i+1, test.Test, test.Reason, test.Code)
	}
	if remaining := len(input.GeneratedTests) - len(shown); remaining > 0 {
		fmt.Fprintf(&b, "... and %d more test(s)\n", remaining)
	}
	return b.String()
}

func listFiles(files []string) string {
	shown := files
	if len(shown) > maxListedFiles {
		shown = shown[:maxListedFiles]
	}
	return strings.Join(shown, ", ")
}

func testRunOutput(input *Input) string {
	if input.TestRun == nil {
		return ""
	}
	return input.TestRun.Output
}

// extractTestCounts pulls pass/fail counts from pytest or go test style
// output. Best effort: unknown formats yield zeros.
func extractTestCounts(output string) (passed, failed int) {
	if match := passedPattern.FindStringSubmatch(output); match != nil {
		passed, _ = strconv.Atoi(match[1])
	}
	if match := failedPattern.FindStringSubmatch(output); match != nil {
		failed, _ = strconv.Atoi(match[1])
	}

	if passed == 0 && failed == 0 {
		passed = strings.Count(output, "--- PASS:")
		failed = strings.Count(output, "--- FAIL:")
	}
	return passed, failed
}

// classifyCodeType derives a coarse code-type signal from changed file
// names, used only to steer the prompt.
func classifyCodeType(files []string) string {
	combined := strings.ToLower(strings.Join(files, " "))

	switch {
	case containsAny(combined, "auth", "login", "token", "password", "session"):
		return "authentication"
	case containsAny(combined, "payment", "stripe", "paypal", "billing"):
		return "payment"
	case containsAny(combined, "db", "database", "sql", "query", "migration"):
		return "database"
	case containsAny(combined, "api", "endpoint", "route", "handler"):
		return "api"
	default:
		return "general"
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
