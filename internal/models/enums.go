package models

import "fmt"

// PaymentStatus is the lifecycle state of a single installment.
type PaymentStatus string

const (
	StatusPending PaymentStatus = "PENDING"
	StatusPaid    PaymentStatus = "PAID"
	StatusOverdue PaymentStatus = "OVERDUE"
)

// ParsePaymentStatus validates a raw status name.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch v := PaymentStatus(s); v {
	case StatusPending, StatusPaid, StatusOverdue:
		return v, nil
	}
	return "", ValidationError("invalid payment status %q", s)
}

// UnmarshalText rejects unknown statuses at the decoding boundary.
func (s *PaymentStatus) UnmarshalText(b []byte) error {
	v, err := ParsePaymentStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// StatusSource identifies who caused a status change.
type StatusSource string

const (
	SourceUser     StatusSource = "USER"
	SourceSystem   StatusSource = "SYSTEM"
	SourceAutoRule StatusSource = "AUTO_RULE"
)

// ParseStatusSource validates a raw source name.
func ParseStatusSource(s string) (StatusSource, error) {
	switch v := StatusSource(s); v {
	case SourceUser, SourceSystem, SourceAutoRule:
		return v, nil
	}
	return "", ValidationError("invalid status source %q", s)
}

func (s *StatusSource) UnmarshalText(b []byte) error {
	v, err := ParseStatusSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PaymentChannel is how the client intends to pay an installment.
type PaymentChannel string

const (
	PaymentCash         PaymentChannel = "CASH"
	PaymentCard         PaymentChannel = "CARD"
	PaymentBankTransfer PaymentChannel = "BANK_TRANSFER"
	PaymentAutoDebit    PaymentChannel = "AUTO_DEBIT"
)

// ParsePaymentChannel validates a raw payment channel.
func ParsePaymentChannel(s string) (PaymentChannel, error) {
	switch v := PaymentChannel(s); v {
	case PaymentCash, PaymentCard, PaymentBankTransfer, PaymentAutoDebit:
		return v, nil
	}
	return "", ValidationError("invalid payment channel %q", s)
}

func (c *PaymentChannel) UnmarshalText(b []byte) error {
	v, err := ParsePaymentChannel(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Channel is a notice delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelPush     Channel = "PUSH"
	ChannelTelegram Channel = "TELEGRAM"
)

// ParseChannel validates a raw channel name.
func ParseChannel(s string) (Channel, error) {
	switch v := Channel(s); v {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelTelegram:
		return v, nil
	}
	return "", fmt.Errorf("%w: invalid notice channel %q", ErrValidation, s)
}

func (c *Channel) UnmarshalText(b []byte) error {
	v, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// RiskTier is the risk classification derived from a score.
type RiskTier string

const (
	TierLow    RiskTier = "LOW"
	TierMedium RiskTier = "MEDIUM"
	TierHigh   RiskTier = "HIGH"
)
