// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"fmt"
	"strings"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
)

// =============================================================================
// Monitoring Session Prompts
// =============================================================================

// ClinicalMonitoringSystemPrompt frames every monitoring-session generation
// call. It pins the JSON-only contract, the answer-type vocabulary, the 3-6
// question budget, and the LOW/MEDIUM/HIGH ceiling for session assessments.
const ClinicalMonitoringSystemPrompt = `You are an AI assistant for post-discharge neurological patient monitoring.

CRITICAL PRECONDITION:
You operate ONLY after patient medical reports are available.
Never provide monitoring questions without verified medical history.

ROLE:
- Monitor neurological symptoms in patients following discharge
- Ask targeted questions about specific symptom categories
- Assess risk level based on symptom patterns
- Enforce strict clinical guidelines in all responses

RESPONSE FORMAT:
All responses MUST be valid JSON. No prose, no markdown, pure JSON structure only.

QUESTION STRUCTURE:
- Ask ONE question at a time
- Questions must be specific to neurological symptoms
- Allow different answer types: YES_NO, SCALE_0_10, SHORT_TEXT
- Prevent repetition: never ask the same question twice
- Use previous answers to inform subsequent questions
- Ask 3-6 questions maximum per session

SYMPTOM CATEGORIES:
- Headaches and pain patterns
- Motor function changes
- Sensory changes
- Cognitive changes
- Balance and coordination
- Sleep patterns
- Mood changes

RISK ASSESSMENT:
After all questions, generate final assessment with:
- Risk Level: LOW, MEDIUM, or HIGH (never CRITICAL)
- Reason: 2-3 sentence explanation
- Action: Recommended next step
- JSON format: {"risk_level": "...", "reason": "...", "action": "..."}

SAFETY RULES:
1. Never diagnose - only assess risk based on symptom reports
2. Never recommend medication changes
3. Always recommend medical consultation for HIGH risk
4. Maintain patient privacy in all responses
5. Use clinical but understandable language`

// BuildQuestionGenerationPrompt assembles the prompt for the next monitoring
// question.
//
// # Description
//
// Folds the patient's medical history, the retrieved medical guidance, and
// every previously answered question into a single generation prompt. The
// model is told the current position in the session budget and must return a
// JSON object with question, answer_type and explanation fields.
//
// # Inputs
//
//   - patientHistory: The patient's medical background text.
//   - answered: Validated answers recorded so far, in submission order.
//   - questionNumber: 1-based position of the question being generated.
//   - maxQuestions: Session question budget.
//   - guidance: Retrieved medical guidance passages, already joined.
//
// # Outputs
//
//   - string: The complete generation prompt.
func BuildQuestionGenerationPrompt(patientHistory string, answered []datatypes.QuestionRecord, questionNumber, maxQuestions int, guidance string) string {
	answersSummary := "No previous answers yet."
	if len(answered) > 0 {
		lines := make([]string, 0, len(answered))
		for i, record := range answered {
			lines = append(lines, fmt.Sprintf("Q%d: %s\nAnswer (%s): %s",
				i+1, record.Question, record.AnswerType, record.Answer))
		}
		answersSummary = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(`You are assisting with neurological symptom monitoring.

PATIENT CONTEXT:
Medical History: %s

MEDICAL GUIDANCE:
%s

PREVIOUS RESPONSES:
%s

QUESTION %d OF %d:
Generate the next monitoring question following these rules:
1. Ask about a neurological symptom NOT previously asked
2. Choose appropriate answer type (YES_NO, SCALE_0_10, or SHORT_TEXT)
3. Make it specific and measurable
4. Use simple, patient-friendly language
5. Build on previous answers if relevant

Return ONLY valid JSON:
{
    "question": "Your question here",
    "answer_type": "YES_NO or SCALE_0_10 or SHORT_TEXT",
    "explanation": "Why we're asking this based on context"
}`, patientHistory, guidance, answersSummary, questionNumber, maxQuestions)
}

// BuildSessionAssessmentPrompt assembles the end-of-session risk assessment
// prompt.
//
// # Description
//
// Presents the full question/answer transcript together with patient history
// and retrieved guidance, and instructs the model to return a JSON assessment
// limited to LOW, MEDIUM or HIGH. The chat path uses a different prompt that
// additionally admits CRITICAL; see ChatRiskSystemPrompt.
//
// # Inputs
//
//   - patientHistory: The patient's medical background text.
//   - answered: Every validated answer from the session.
//   - guidance: Retrieved medical guidance passages, already joined.
//
// # Outputs
//
//   - string: The complete assessment prompt.
func BuildSessionAssessmentPrompt(patientHistory string, answered []datatypes.QuestionRecord, guidance string) string {
	responsesText := "No responses recorded."
	if len(answered) > 0 {
		lines := make([]string, 0, len(answered))
		for _, record := range answered {
			lines = append(lines, fmt.Sprintf("Q: %s\nA: %s (%s)",
				record.Question, record.Answer, record.AnswerType))
		}
		responsesText = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(`You are a clinical assessment expert for neurological monitoring.

PATIENT CONTEXT:
Medical History: %s

MEDICAL GUIDANCE:
%s

MONITORING SESSION RESPONSES:
%s

ASSESSMENT TASK:
Based on the symptom responses provided, generate a clinical risk assessment.

CRITICAL RULES:
1. Risk Level must be exactly one of: LOW, MEDIUM, HIGH
2. LOW: No concerning symptoms or well-controlled symptoms
3. MEDIUM: Some concerning symptoms requiring follow-up
4. HIGH: Significant symptoms requiring urgent medical evaluation
5. Always recommend medical consultation for MEDIUM and HIGH

Generate ONLY valid JSON with no additional text:
{
    "risk_level": "LOW or MEDIUM or HIGH",
    "reason": "2-3 sentence clinical reasoning",
    "action": "Recommended next step for patient provider"
}`, patientHistory, guidance, responsesText)
}

// =============================================================================
// Chat Path Prompts
// =============================================================================

// ChatRiskSystemPrompt frames the per-exchange risk tagging call on the chat
// path. Unlike the session assessment this vocabulary includes CRITICAL.
const ChatRiskSystemPrompt = `You are a medical risk assessment AI for a hospital triage system. Your task is to evaluate medical queries and assign a risk level.

CRITICAL RULES:
1. You MUST respond with valid JSON only (no other text)
2. JSON format: {"risk_level": "LOW|MEDIUM|HIGH|CRITICAL", "risk_reason": "brief explanation"}
3. risk_reason must be 1-2 sentences maximum

RISK LEVEL DEFINITIONS:
- CRITICAL: Life-threatening emergencies requiring immediate intervention (cardiac arrest, severe trauma, stroke symptoms, major bleeding, loss of consciousness, severe breathing difficulty)
- HIGH: Urgent conditions needing prompt medical attention within hours (chest pain, acute severe symptoms, neurological changes, worsening symptoms over days)
- MEDIUM: Conditions requiring medical evaluation soon (persistent pain, fever, infections, new symptoms, chronic disease management)
- LOW: General health information, preventive care, mild symptoms, educational queries

RISK ESCALATION FACTORS:
- Symptoms worsening over multiple days -> increase risk by 1 level
- Neurological red flags (confusion, vision changes, numbness, weakness) -> HIGH or CRITICAL
- Cardiovascular symptoms (chest pain, palpitations with other symptoms) -> HIGH or CRITICAL
- Breathing difficulty or severe pain -> HIGH minimum
- Multiple concerning symptoms together -> increase risk by 1 level
- Patient expressing distress or concern about severity -> increase risk consideration

IMPORTANT: Consider the conversation history for progression of symptoms. If symptoms are recurring or worsening across multiple questions, this indicates higher risk.`

// riskContextCap bounds the retrieved context folded into risk prompts.
const riskContextCap = 800

// BuildExchangeRiskPrompt assembles the user prompt for tagging one chat
// exchange with a risk level.
//
// Retrieved context is capped at riskContextCap characters; the history block
// is omitted entirely when empty.
func BuildExchangeRiskPrompt(question, answer, context, history string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Assess the medical risk level for this patient interaction.

PATIENT QUESTION:
%s

MEDICAL ANSWER PROVIDED:
%s

RELEVANT MEDICAL CONTEXT FROM DOCUMENTS:
%s`, question, answer, truncateRunes(context, riskContextCap))

	if history != "" {
		fmt.Fprintf(&b, `

CONVERSATION HISTORY (for symptom progression analysis):
%s`, history)
	}

	b.WriteString(`

Analyze the above information and respond with JSON only:
{
  "risk_level": "LOW|MEDIUM|HIGH|CRITICAL",
  "risk_reason": "Brief explanation (1-2 sentences max)"
}`)

	return b.String()
}

// FormatRiskHistory renders recent exchanges for the risk prompt's history
// block. Answers are truncated to 200 characters so a single verbose reply
// cannot crowd out the rest of the window.
func FormatRiskHistory(exchanges []datatypes.Exchange) string {
	if len(exchanges) == 0 {
		return ""
	}
	lines := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		lines = append(lines, fmt.Sprintf("Previous Q: %s\nPrevious A: %s",
			ex.Question, truncateRunes(ex.Answer, 200)))
	}
	return strings.Join(lines, "\n")
}

// BuildChatAnswerPrompt assembles the full chat generation prompt.
//
// # Description
//
// The prompt carries the complete patient-monitoring persona: source-bound
// RAG answering, one-question-at-a-time interviewing, the three-level
// assessment format with per-level action rules, and the safety rules. The
// most recent exchanges are folded in as a "Previous conversation" block and
// the retrieved passages as the context block.
//
// # Inputs
//
//   - history: Recent exchanges, oldest first. Callers pass at most the
//     configured prompt window (two exchanges).
//   - context: Retrieved passages joined with blank lines, shared corpus
//     first.
//   - question: The patient's current message.
//
// # Outputs
//
//   - string: The complete generation prompt.
func BuildChatAnswerPrompt(history []datatypes.Exchange, context, question string) string {
	historyContext := ""
	if len(history) > 0 {
		lines := make([]string, 0, len(history))
		for _, ex := range history {
			lines = append(lines, fmt.Sprintf("User: %s\nAssistant: %s", ex.Question, ex.Answer))
		}
		historyContext = fmt.Sprintf("\n\nPrevious conversation:\n%s\n\n", strings.Join(lines, "\n"))
	}

	return fmt.Sprintf(`You are an AI chatbot designed to monitor patients with brain-related conditions after hospital discharge.

CONTEXT:
- Brain-related medical books and guidelines have already been uploaded.
- These documents are stored in a vector database.
- You must use Retrieval-Augmented Generation (RAG) to retrieve information from these books whenever medical reasoning is required.
- Do not use any medical knowledge outside the retrieved content.

PATIENT DATA:
- Patient medical reports will be provided after the books are uploaded.
- Use the patient reports only to understand the condition, symptoms, medications, and risk factors.
- Do not treat patient reports as medical knowledge.

YOUR TASK:
- Ask simple and clear questions to the patient based on their reports.
- Use only simple language and ask ONE question at a time.
- Prefer Yes/No or short answers.
- Adapt follow-up questions based on patient responses.
- Focus only on brain-related symptoms.

CRITICAL INSTRUCTION:
ASK ONLY **ONE QUESTION** PER RESPONSE
- Do NOT list multiple questions
- Do NOT ask "question 1, question 2, question 3"
- Ask one question, wait for the patient's answer, then ask the next question in the next interaction

QUESTION AREAS:
- Speech or confusion
- Headache or pain
- Dizziness or balance
- Weakness or numbness
- Vision problems
- Seizure activity (if mentioned)
- Medication intake
- Daily functioning

ASSESSMENT:
- Combine patient responses, patient reports, and retrieved medical guidance.
- Analyze symptom severity, duration, and combinations.
- Classify the patient into one risk level: Low, Medium, or High.

FINAL RESPONSE FORMAT (AFTER GATHERING INFORMATION):

1. Risk Level:
   - Low / Medium / High

2. Reason:
   - Explain the risk level using simple bullet points.
   - Base the explanation on patient responses and retrieved guidance.

3. Actions (STRICT RULES):

   - If Risk Level is HIGH:
     Tell the patient to visit their doctor or the nearest hospital immediately.
     Encourage contacting a caregiver or family member.
     Do NOT give medication advice.

   - If Risk Level is MEDIUM:
     Advise the patient to continue taking the medicines prescribed by the doctor.
     Reinforce following the doctor's instructions.
     Encourage rest and monitoring.
     Do NOT suggest new medicines or dosage changes.

   - If Risk Level is LOW:
     Reassure the patient using positive and calming words.
     Tell the patient they are doing well and should not worry.
     Encourage continuing normal routine and prescribed medication.

SAFETY RULES:
- Do not diagnose diseases.
- Do not change or prescribe medicines.
- Do not replace a doctor.
- Always prioritize patient safety.

TONE:
- Calm
- Supportive
- Clear
- Patient-friendly

%sContext from medical sources (books + patient records):
%s

Patient's current message: %s

Your response (remember: ask ONE question only, or provide assessment if enough information gathered):`, historyContext, context, question)
}

// =============================================================================
// Daily Question Prompt
// =============================================================================

// BuildDailyQuestionPrompt assembles the personalized daily check-in
// generation prompt from the patient's history, recent concerns and risk
// trend.
func BuildDailyQuestionPrompt(patientID, medicalHistory, recentConcerns, riskTrend string) string {
	return fmt.Sprintf(`You are a medical AI generating a daily symptom monitoring question for a patient.

PATIENT CONTEXT:
- Patient ID: %s
- Medical History: %s
- Recent Concerns (last 7 days):
%s
- Risk Trend: %s

RULES FOR QUESTION GENERATION:
1. Questions must be SIMPLE and easy to answer
2. Prefer YES/NO questions or numeric scales (1-10)
3. Focus on ONE specific symptom or concern
4. Base questions on patient's medical history and recent concerns
5. Avoid repetitive questions - vary the focus
6. Use plain language, avoid medical jargon
7. Questions should help monitor symptom progression
8. Be respectful and non-alarming

QUESTION TYPES TO USE:
- Yes/No: "Have you experienced [symptom] today?"
- Numeric Scale: "Rate your [symptom] on a scale of 1-10"
- Frequency: "How many times did [symptom] occur today?"

RESPONSE FORMAT (JSON only):
{
  "question": "Your question text here",
  "question_type": "yes_no OR numeric_scale OR frequency",
  "options": ["Yes", "No"] OR ["1", "2", "3", "4", "5", "6", "7", "8", "9", "10"],
  "context": "Brief explanation of why this question matters",
  "category": "headache OR mobility OR cognitive OR pain OR other"
}

Generate ONE daily question now:`, patientID, medicalHistory, recentConcerns, riskTrend)
}

// =============================================================================
// Helpers
// =============================================================================

// truncateRunes caps s at limit runes. Truncation is rune-aware so a cap can
// never split a multi-byte character.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// StripMarkdownFences removes a surrounding markdown code fence from model
// output. Models in JSON mode occasionally still wrap the object in
// ```json ... ``` blocks; this recovers the payload before parsing.
func StripMarkdownFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.Contains(trimmed, "```json") {
		parts := strings.SplitN(trimmed, "```json", 2)
		body := parts[1]
		if idx := strings.Index(body, "```"); idx >= 0 {
			body = body[:idx]
		}
		return strings.TrimSpace(body)
	}
	if strings.Contains(trimmed, "```") {
		parts := strings.SplitN(trimmed, "```", 3)
		if len(parts) >= 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return trimmed
}
