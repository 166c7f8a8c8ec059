package llm

import (
	"fmt"

	"github.com/raphaelgruber/scenariogen/internal/models"
)

const scenarioSystemPrompt = `You design business task scenarios used to evaluate AI agents.
Respond with a single JSON object and nothing else. No prose, no markdown.

Required keys:
- "task_title": short imperative title
- "task_description": the full task statement given to the agent
- "business_context": the company, situation and stakeholders
- "complexity_level": one of "simple", "moderate", "complex"
- "domain_data": object with the domain specific inputs the agent needs
- "success_criteria": array of objects, each with "criterion" and "weight"
Optional key:
- "control_expectations": object describing measurable expectations for evaluators`

var domainGuidance = map[models.Domain]string{
	models.DomainAnalytical:     "Quantitative analysis over concrete data: metrics, trends, anomalies. domain_data carries the dataset and the questions to answer.",
	models.DomainPlanning:       "Planning under constraints: schedules, resources, dependencies, budgets. domain_data carries the constraints and the resources available.",
	models.DomainCommunication:  "Written communication to a defined audience: announcements, negotiations, escalations. domain_data carries the audience, tone and key facts.",
	models.DomainProblemSolving: "Diagnosing and resolving an operational problem with incomplete information. domain_data carries symptoms, evidence and constraints.",
}

var tierGuidance = map[models.Tier]string{
	models.TierSimple:   "Single objective, few inputs, one obvious approach. Two or three success criteria.",
	models.TierModerate: "Several interacting inputs and one trade-off the agent must weigh. Three to five success criteria.",
	models.TierComplex:  "Many interacting inputs, conflicting goals and hidden constraints. Five to eight success criteria, including at least one about justifying trade-offs.",
}

// ScenarioPrompt returns the system and user prompts for unit.
func ScenarioPrompt(unit models.WorkUnit) (string, string) {
	user := fmt.Sprintf(`Create one %s scenario for the %s domain.

Domain: %s
Complexity: %s

This is variation %d for experiment %q. Make it clearly different from other variations of the same domain and complexity.`,
		unit.Tier, unit.Domain,
		domainGuidance[unit.Domain],
		tierGuidance[unit.Tier],
		unit.Repetition, unit.ExperimentID)

	return scenarioSystemPrompt, user
}
