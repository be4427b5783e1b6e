package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TaxonomyItem is the canonical service-classification metadata keyed by
// a stable natural key, `DOMAIN.SERVICE_ITEM.COMPONENT`.
type TaxonomyItem struct {
	Code            string
	Domain          string
	ServiceItem     string
	BillingComponent string
	UnitModel       string
	Label           string
	Description     string
	Active          bool
}

type Carrier struct {
	ID        uuid.UUID
	Name      string
	ShortCode string
	IsActive  bool
}

type Supplier struct {
	ID       uuid.UUID
	Name     string
	TaxID    string
	IsActive bool
}

type Contract struct {
	ID             uuid.UUID
	SupplierID     uuid.UUID
	CarrierID      uuid.UUID
	Name           string
	EffectiveFrom  time.Time
	EffectiveTo    *time.Time
	GeographyScope GeographyScope
	StateCodes     []string
	Notes          string
	IsActive       bool
}

type RateCard struct {
	ID              uuid.UUID
	ContractID      uuid.UUID
	TaxonomyCode    string
	ContractedRate  decimal.Decimal
	MaxUnits        *decimal.Decimal
	IsAllInclusive  bool
	EffectiveFrom   time.Time
	EffectiveTo     *time.Time
	Notes           string
}

// Guideline is a structured rule derived from contract narrative
// language. RuleParams is kept as a generic map and decoded per RuleType
// by the guideline validator, since each rule type has its own shape.
type Guideline struct {
	ID             uuid.UUID
	ContractID     uuid.UUID
	TaxonomyCode   *string
	Domain         *string
	RuleType       string
	RuleParams     map[string]interface{}
	Severity       ValidationSeverity
	NarrativeSource string
	IsActive       bool
}

type MappingRule struct {
	ID                uuid.UUID
	SupplierID        *uuid.UUID // nil = global
	MatchType         MatchType
	MatchPattern      string
	TaxonomyCode      string
	BillingComponent  string
	ConfidenceWeight  float64
	ConfidenceLabel   ConfidenceLabel
	ConfirmedBy       ConfirmedBy
	ConfirmedByUserID *uuid.UUID
	ConfirmedAt       *time.Time
	Version           int
	EffectiveFrom     time.Time
	EffectiveTo       *time.Time
	SupersedesRuleID  *uuid.UUID
	Notes             string
}

// Active reports whether the rule is currently effective at instant t.
func (m MappingRule) Active(t time.Time) bool {
	return m.EffectiveTo == nil || m.EffectiveTo.After(t)
}

type Invoice struct {
	ID              uuid.UUID
	SupplierID      uuid.UUID
	ContractID      uuid.UUID
	InvoiceNumber   string
	InvoiceDate     time.Time
	Status          InvoiceStatus
	CurrentVersion  int
	RawFilePointer  string
	SubmittedAt     *time.Time
	SubmissionNotes string
}

type InvoiceVersion struct {
	ID            uuid.UUID
	InvoiceID     uuid.UUID
	VersionNumber int
	RawFilePointer string
	FileFormat    FileFormat
	SubmittedAt   time.Time
	Notes         string
}

type LineItem struct {
	ID               uuid.UUID
	InvoiceID        uuid.UUID
	InvoiceVersion   int
	LineNumber       int
	Status           LineItemStatus

	RawDescription string
	RawCode        *string
	RawAmount      decimal.Decimal
	RawQuantity    decimal.Decimal
	RawUnit        *string
	ClaimNumber    *string
	ServiceDate    *time.Time

	TaxonomyCode      *string
	BillingComponent  *string
	MappingConfidence *ConfidenceLabel
	MappingRuleID     *uuid.UUID
	MappedRate        *decimal.Decimal
	ExpectedAmount    *decimal.Decimal

	AIAssessment *AIAssessmentResult
}

// AIAssessmentResult is the supplemented, optional description-alignment
// check's outcome, persisted as a nullable JSON column on the line item.
type AIAssessmentResult struct {
	Score     string `json:"score"`
	Rationale string `json:"rationale"`
}

type RawExtractionArtifact struct {
	ID               uuid.UUID
	InvoiceVersionID uuid.UUID
	PageNumber       *int
	RawText          string
	ExtractionMethod string
	Metadata         map[string]interface{}
}

type ValidationResult struct {
	ID             uuid.UUID
	LineItemID     uuid.UUID
	ValidationType ValidationType
	RateCardID     *uuid.UUID
	GuidelineID    *uuid.UUID
	Status         ValidationStatus
	Severity       ValidationSeverity
	Message        string
	ExpectedValue  *string
	ActualValue    *string
	RequiredAction RequiredAction
}

type ExceptionRecord struct {
	ID                 uuid.UUID
	LineItemID         uuid.UUID
	ValidationResultID uuid.UUID
	Status             ExceptionStatus
	SupplierResponse   *string
	SupportingDocPath  *string
	ResolutionAction   *ResolutionAction
	ResolutionNotes    *string
	ResolvedAt         *time.Time
	ResolvedByUserID   *uuid.UUID
}

// AuditEvent is append-only; CreatedAt is store-assigned and must never
// be set by callers before persistence (spec §9 "Audit authority").
type AuditEvent struct {
	ID         uuid.UUID
	EntityType string
	EntityID   uuid.UUID
	EventType  AuditEventType
	ActorType  ActorType
	ActorID    *uuid.UUID
	Payload    map[string]interface{}
	CreatedAt  time.Time
}
