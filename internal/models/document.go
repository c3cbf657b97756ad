package models

import "time"

// SourceDocument is the cleaned text of one fetched page.
type SourceDocument struct {
	ID       string
	URL      string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a bounded span of a SourceDocument's text.
// Start and End are byte offsets into the source Content.
type Chunk struct {
	ID        string
	SourceID  string
	SourceURL string
	Index     int
	Start     int
	End       int
	Text      string
}

// ExtractionQuestion is one of the fixed questions asked about a job posting.
type ExtractionQuestion struct {
	Field    string
	Question string
}

const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldCompanyName = "companyName"
)

// ExtractionQuestions are asked in order; the order is part of the pipeline.
var ExtractionQuestions = []ExtractionQuestion{
	{Field: FieldTitle, Question: "What is the job title?"},
	{Field: FieldDescription, Question: "What is the job description?"},
	{Field: FieldCompanyName, Question: "What is the company name?"},
}

// ExtractionResult holds the answers extracted from a job posting.
type ExtractionResult struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CompanyName string    `json:"companyName"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Set assigns an answer by field name. Unknown fields are ignored.
func (r *ExtractionResult) Set(field, answer string) {
	switch field {
	case FieldTitle:
		r.Title = answer
	case FieldDescription:
		r.Description = answer
	case FieldCompanyName:
		r.CompanyName = answer
	}
}

// Fields returns the result as a field name -> answer map.
func (r *ExtractionResult) Fields() map[string]string {
	return map[string]string{
		FieldTitle:       r.Title,
		FieldDescription: r.Description,
		FieldCompanyName: r.CompanyName,
	}
}
