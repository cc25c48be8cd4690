package server

import (
	"veriline/internal/domain"
)

// Request payloads

type ImportMethodologyRequest struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// Process is the methodology state chart as an ordered JSON document.
	// Either process or process_yaml must be provided.
	Process     string `json:"process,omitempty"`
	ProcessYAML string `json:"process_yaml,omitempty"`
}

type CreateInvestigationRequest struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Methodology string `json:"methodology"`
}

type IngestUnitRequest struct {
	Source      string `json:"source"`
	UnitID      string `json:"unit_id"`
	IDHash      string `json:"id_hash,omitempty"`
	Body        string `json:"body,omitempty"`
	Href        string `json:"href,omitempty"`
	Author      string `json:"author,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Photos      int    `json:"photos,omitempty"`
	Videos      int    `json:"videos,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	FetchedAt   string `json:"fetched_at,omitempty"`
}

type PutUnitStateRequest struct {
	Snapshot string `json:"snapshot"`
}

type PutAnnotationRequest struct {
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
	Value any    `json:"value"`
	Note  string `json:"note,omitempty"`
}

// Response payloads

type MethodologyResponse struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Process     string `json:"process"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type InvestigationResponse struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Methodology string `json:"methodology"`
	CreatedAt   string `json:"created_at"`
}

type UnitResponse struct {
	ID           int    `json:"id"`
	Source       string `json:"source"`
	Title        string `json:"title,omitempty"`
	Photos       int    `json:"photos"`
	Videos       int    `json:"videos"`
	State        string `json:"state"`
	Verification int    `json:"verification"`
}

type FullUnitResponse struct {
	ID          int    `json:"id"`
	IDHash      string `json:"id_hash"`
	Source      string `json:"source"`
	UnitID      string `json:"unit_id"`
	Body        string `json:"body,omitempty"`
	Href        string `json:"href,omitempty"`
	Author      string `json:"author,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	FetchedAt   string `json:"fetched_at"`
}

type AnnotationResponse struct {
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
	Value any    `json:"value"`
	Note  string `json:"note,omitempty"`
}

type unitList struct {
	Items []UnitResponse `json:"items"`
}

type fullUnitList struct {
	Items []FullUnitResponse `json:"items"`
}

type annotationList struct {
	Items []AnnotationResponse `json:"items"`
}

type methodologyList struct {
	Items []MethodologyResponse `json:"items"`
}

func methodologyResponse(m domain.Methodology) MethodologyResponse {
	return MethodologyResponse{
		ID:          m.ID,
		Slug:        m.Slug,
		Title:       m.Title,
		Description: m.Description,
		Process:     m.Process,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func investigationResponse(inv domain.Investigation) InvestigationResponse {
	return InvestigationResponse{
		Slug:        inv.Slug,
		Title:       inv.Title,
		Methodology: inv.Methodology,
		CreatedAt:   inv.CreatedAt,
	}
}

func unitResponse(u domain.VerificationUnit) UnitResponse {
	return UnitResponse{
		ID:           u.ID,
		Source:       u.Source,
		Title:        u.Title,
		Photos:       u.Photos,
		Videos:       u.Videos,
		State:        u.State,
		Verification: u.Verification,
	}
}

func mapUnits(items []domain.VerificationUnit) []UnitResponse {
	res := make([]UnitResponse, 0, len(items))
	for _, u := range items {
		res = append(res, unitResponse(u))
	}
	return res
}

func fullUnitResponse(u domain.FullUnit) FullUnitResponse {
	return FullUnitResponse{
		ID:          u.ID,
		IDHash:      u.IDHash,
		Source:      u.Source,
		UnitID:      u.UnitID,
		Body:        u.Body,
		Href:        u.Href,
		Author:      u.Author,
		Title:       u.Title,
		Description: u.Description,
		CreatedAt:   u.CreatedAt,
		FetchedAt:   u.FetchedAt,
	}
}

func annotationResponse(a domain.Annotation) AnnotationResponse {
	return AnnotationResponse{Key: a.Key, Name: a.Name, Value: a.Value, Note: a.Note}
}

func mapAnnotations(items []domain.Annotation) []AnnotationResponse {
	res := make([]AnnotationResponse, 0, len(items))
	for _, a := range items {
		res = append(res, annotationResponse(a))
	}
	return res
}
