package sale

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

type saleResponse struct {
	ID               uuid.UUID          `json:"id"`
	UnitID           uuid.UUID          `json:"unit_id"`
	ClientID         uuid.UUID          `json:"client_id"`
	CommercialID     uuid.UUID          `json:"commercial_id"`
	AgencyID         uuid.UUID          `json:"agency_id"`
	NotaryID         *uuid.UUID         `json:"notary_id,omitempty"`
	SalePrice        int64              `json:"sale_price"`
	Status           sale.Status        `json:"status"`
	AllowedNext      []sale.Status      `json:"allowed_next"`
	Signatures       signaturesResponse `json:"signatures"`
	FundsTransferred bool               `json:"funds_transferred"`
	Documents        []documentResponse `json:"documents"`
	History          []historyResponse  `json:"history"`
	Version          int64              `json:"version"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	Schedule         *scheduleReference `json:"schedule,omitempty"`
}

type signaturesResponse struct {
	Commercial *time.Time `json:"commercial,omitempty"`
	Client     *time.Time `json:"client,omitempty"`
	Agency     *time.Time `json:"agency,omitempty"`
}

type documentResponse struct {
	Name       string            `json:"name"`
	Kind       sale.DocumentKind `json:"kind"`
	StorageRef string            `json:"storage_ref"`
	UploadedAt time.Time         `json:"uploaded_at"`
}

type historyResponse struct {
	At          time.Time   `json:"at"`
	ActorID     uuid.UUID   `json:"actor_id"`
	ActorRole   actor.Role  `json:"actor_role"`
	Action      sale.Action `json:"action"`
	Description string      `json:"description"`
}

type scheduleReference struct {
	ID          uuid.UUID `json:"id"`
	TotalAmount int64     `json:"total_amount"`
}

func toResponse(sl *sale.Sale) saleResponse {
	resp := saleResponse{
		ID:           sl.ID,
		UnitID:       sl.UnitID,
		ClientID:     sl.ClientID,
		CommercialID: sl.CommercialID,
		AgencyID:     sl.AgencyID,
		NotaryID:     sl.NotaryID,
		SalePrice:    sl.SalePrice,
		Status:       sl.Status,
		AllowedNext:  sale.AllowedTransitions(sl.Status),
		Signatures: signaturesResponse{
			Commercial: sl.Signatures.Commercial,
			Client:     sl.Signatures.Client,
			Agency:     sl.Signatures.Agency,
		},
		FundsTransferred: sl.FundsTransferred,
		Documents:        make([]documentResponse, 0, len(sl.Documents)),
		History:          make([]historyResponse, 0, len(sl.History)),
		Version:          sl.Version,
		CreatedAt:        sl.CreatedAt,
		UpdatedAt:        sl.UpdatedAt,
	}

	for _, d := range sl.Documents {
		resp.Documents = append(resp.Documents, documentResponse{
			Name:       d.Name,
			Kind:       d.Kind,
			StorageRef: d.StorageRef,
			UploadedAt: d.UploadedAt,
		})
	}

	for _, e := range sl.History {
		resp.History = append(resp.History, historyResponse{
			At:          e.At,
			ActorID:     e.ActorID,
			ActorRole:   e.ActorRole,
			Action:      e.Action,
			Description: e.Description,
		})
	}

	return resp
}

func toResponseList(sales []*sale.Sale) []saleResponse {
	resp := make([]saleResponse, len(sales))
	for i, sl := range sales {
		resp[i] = toResponse(sl)
	}

	return resp
}
