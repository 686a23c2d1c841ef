package extractor

// Target retrieval queries, one vocabulary list per intent
const (
	objectivesQuery = `clinical trial objectives primary objective secondary objective exploratory objective
primary endpoint secondary endpoint exploratory endpoint
efficacy endpoint safety endpoint outcome measures
estimand analysis population
objectives and endpoints section`

	eligibilityQuery = `inclusion criteria exclusion criteria eligibility criteria
eligible subjects study population screening criteria
inclusion requirements exclusion requirements
criteria for participation subject eligibility`

	scheduleQuery = `schedule of activities study flow table visit schedule
visit schedule table study visits timepoints
assessment schedule procedures by visit
screening visit treatment visit follow-up visit
study day visit window`

	visitDefinitionsQuery = `visit definitions visit schedule description
screening visit day 1 day 29 follow-up visit
illness visit safety follow-up early termination visit
visit window timing of visits study flow
conditional visits triggered visits`

	keyAssessmentsQuery = `key assessments study assessments and procedures
safety assessments efficacy assessments
physical examination vital signs electrocardiogram
clinical laboratory tests blood sampling
tumor assessment adverse events`
)

const promptPreamble = `You are a clinical trial protocol analysis expert.

`

const promptTail = `
You MUST return your response as valid JSON ONLY. Do not include any text before or after the JSON.

Protocol text:
"""
{{content}}
"""

Return ONLY valid JSON:
`

const objectivesPrompt = promptPreamble + `Your task is to extract ALL study objectives and ALL endpoints described in the protocol text below.

Identify primary, secondary and exploratory objectives. Objectives that fit none of these go under "other".
For each objective, give the objective statement as written and the endpoint(s) that measure it.

Important instructions:
- Objectives and endpoints may appear in both narrative text and tables.
- Endpoints may be described as outcome measures.
- Include efficacy and safety endpoints.
- Do NOT invent information. If something is not explicitly stated, do not infer it.
- Preserve original wording as much as possible.
- Use an empty list for a category with no objectives.

Use the following JSON structure:
{
  "primary": [{"objective": "objective text", "endpoints": ["endpoint 1", "endpoint 2"]}],
  "secondary": [{"objective": "objective text", "endpoints": ["endpoint 1"]}],
  "exploratory": [{"objective": "objective text", "endpoints": ["endpoint 1"]}],
  "other": []
}
` + promptTail

const eligibilityPrompt = promptPreamble + `Your task is to extract ALL inclusion criteria and ALL exclusion criteria from the protocol text below.

Important instructions:
- Criteria are usually presented as numbered or bulleted lists.
- Preserve the original wording. Do NOT summarize or paraphrase.
- Do NOT merge multiple criteria into one.
- Do NOT invent or infer criteria that are not explicitly stated.
- If inclusion and exclusion criteria appear in the same section, separate them correctly.

Use the following JSON structure:
{
  "inclusion": ["criterion 1", "criterion 2"],
  "exclusion": ["criterion 1", "criterion 2"]
}
` + promptTail

const schedulePrompt = promptPreamble + `Your task is to reconstruct the full Schedule of Activities (SoA) from the protocol text below.

The Schedule of Activities maps study visits (Screening, Day 1, Follow-up, ...) to the procedures,
dosing and sample collections performed at each visit.

Important instructions:
- The SoA is usually presented as one or more tables. Return one entry per table.
- Preserve visit names exactly as written.
- Include the study day and visit window when provided.
- If procedures are marked with symbols (e.g., X), interpret them as performed.
- Do NOT omit visits. Do NOT invent visits or procedures not explicitly shown.

Use the following JSON structure:
{
  "tables": [
    {
      "table_title": "title if stated",
      "visits": [
        {"visit_name": "Visit Name", "study_day": "day if stated", "window": "window if stated", "procedures": ["procedure 1", "procedure 2"]}
      ]
    }
  ]
}
` + promptTail

const visitDefinitionsPrompt = promptPreamble + `Your task is to extract every study visit definition and visit timing rule from the protocol text below.

Focus on the purpose of each visit, when it occurs, its visit window, and any condition that
triggers it (e.g., illness visits, early termination). This task is NOT about listing procedures.

Important instructions:
- Preserve original wording where important.
- Do NOT invent visit rules not explicitly stated.
- Omit optional fields that are not stated.

Use the following JSON structure:
{
  "visits": [
    {"name": "Visit Name", "description": "purpose and definition", "timing": "when it occurs", "window": "window if stated", "trigger": "trigger conditions if applicable"}
  ]
}
` + promptTail

const keyAssessmentsPrompt = promptPreamble + `Your task is to extract the key assessments described in the protocol text below
and the procedures grouped under each assessment.

Important instructions:
- Categorize each assessment (e.g., Safety, Efficacy, Pharmacokinetic).
- List the procedures performed as part of each assessment.
- This task is NOT about objectives or visit schedules.
- Do NOT invent assessments or procedures that are not explicitly stated.

Use the following JSON structure:
{
  "assessments": [
    {
      "category": "Safety",
      "name": "Assessment Name",
      "description": "what is assessed",
      "procedures": [{"name": "Procedure Name", "description": "how it is performed"}]
    }
  ]
}
` + promptTail
