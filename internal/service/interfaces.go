package service

import (
	"time"
)

type CreatePoolRequest struct {
	Title           string    `json:"title" validate:"required,min=3,max=200"`
	Category        string    `json:"category" validate:"required,pool_category"`
	StakeAmount     int64     `json:"stake_amount" validate:"gt=0"`
	MinParticipants int       `json:"min_participants" validate:"gte=1,lte=10000"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	JoinDeadline    time.Time `json:"join_deadline" validate:"required,ltefield=StartTime"`
	PeriodSeconds   int64     `json:"period_seconds" validate:"gte=60"`
	GraceSeconds    int64     `json:"grace_seconds" validate:"gte=0"`
	RequiredPeriods int       `json:"required_periods" validate:"gte=0"`
	AutoVerify      bool      `json:"auto_verify"`
}

type JoinRequest struct {
	TransferRef   string `json:"transfer_ref" validate:"required,max=128"`
	WalletAddress string `json:"wallet_address" validate:"required,eth_addr"`
}

type SubmitProofRequest struct {
	Period      int    `json:"period" validate:"gte=0"`
	EvidenceRef string `json:"evidence_ref" validate:"required,max=2048"`
}
