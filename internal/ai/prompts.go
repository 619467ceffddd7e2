package ai

import "fmt"

const (
	tutorInstruction = "You are Ai-buddy, a friendly and encouraging AI tutor for ExamRedi. " +
		"Your goal is to help students understand complex topics and prepare for their exams. " +
		"Keep your tone positive and supportive. Format responses using markdown."

	educatorInstruction = "You are an expert educator. Create a concise, easy-to-understand study guide. " +
		"Use clear headings, bullet points, and simple language. Use markdown for formatting."

	advisorInstruction = "You are a knowledgeable career and academic advisor for Nigerian students. " +
		"Provide accurate, detailed, and encouraging information. Use markdown formatting."
)

type SearchType string

const (
	SearchUniversity SearchType = "university"
	SearchCourse     SearchType = "course"
)

func guidePrompt(subject, topic string) string {
	return fmt.Sprintf("Generate a study guide for the subject %q on the topic %q.", subject, topic)
}

func researchPrompt(kind SearchType, query string) string {
	if kind == SearchUniversity {
		return fmt.Sprintf("Provide a detailed overview of the Nigerian university: %q. "+
			"Include its history, notable alumni, faculties, admission requirements, and student life.", query)
	}
	return fmt.Sprintf("Generate a guide for a Nigerian student considering a career in %q. "+
		"Include required JAMB subjects, top Nigerian universities offering it, career paths, and necessary skills.", query)
}
