package persistence

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/inkflow/types"
)

// 表结构由 internal/migration 维护，这里只做行映射。

type documentRow struct {
	ID           string    `gorm:"column:id;primaryKey"`
	OwnerID      string    `gorm:"column:owner_id"`
	Title        string    `gorm:"column:title"`
	Description  string    `gorm:"column:description"`
	Tone         string    `gorm:"column:tone"`
	Keywords     string    `gorm:"column:keywords"`
	Audience     string    `gorm:"column:audience"`
	LengthMin    int       `gorm:"column:length_min"`
	LengthMax    int       `gorm:"column:length_max"`
	Content      string    `gorm:"column:content"`
	Instructions string    `gorm:"column:instructions"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (documentRow) TableName() string { return "documents" }

func newDocumentRow(doc types.Document) (documentRow, error) {
	keywords := doc.Metadata.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	raw, err := json.Marshal(keywords)
	if err != nil {
		return documentRow{}, err
	}
	return documentRow{
		ID:           doc.ID,
		OwnerID:      doc.OwnerID,
		Title:        doc.Metadata.Title,
		Description:  doc.Metadata.Description,
		Tone:         doc.Metadata.Tone,
		Keywords:     string(raw),
		Audience:     doc.Metadata.Audience,
		LengthMin:    doc.Metadata.LengthMin,
		LengthMax:    doc.Metadata.LengthMax,
		Content:      doc.Content,
		Instructions: doc.Instructions,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (r documentRow) toDocument() types.Document {
	keywords := []string{}
	if r.Keywords != "" {
		// 损坏的 keywords 列按空集合处理
		_ = json.Unmarshal([]byte(r.Keywords), &keywords)
	}
	return types.Document{
		ID:      r.ID,
		OwnerID: r.OwnerID,
		Metadata: types.DocumentMetadata{
			Title:       r.Title,
			Description: r.Description,
			Tone:        r.Tone,
			Keywords:    keywords,
			Audience:    r.Audience,
			LengthMin:   r.LengthMin,
			LengthMax:   r.LengthMax,
		},
		Content:      r.Content,
		Instructions: r.Instructions,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type messageRow struct {
	ID             string    `gorm:"column:id;primaryKey"`
	DocumentID     string    `gorm:"column:document_id"`
	UserText       string    `gorm:"column:user_text"`
	AIText         string    `gorm:"column:ai_text"`
	CheckpointID   *string   `gorm:"column:checkpoint_id"`
	IdempotencyKey *string   `gorm:"column:idempotency_key"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (messageRow) TableName() string { return "messages" }

func (r messageRow) toMessage() types.Message {
	return types.Message{
		ID:           r.ID,
		DocumentID:   r.DocumentID,
		UserText:     r.UserText,
		AIText:       r.AIText,
		CheckpointID: r.CheckpointID,
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func toMessages(rows []messageRow) []types.Message {
	out := make([]types.Message, len(rows))
	for i, r := range rows {
		out[i] = r.toMessage()
	}
	return out
}

type checkpointRow struct {
	ID         string    `gorm:"column:id;primaryKey"`
	DocumentID string    `gorm:"column:document_id"`
	Content    string    `gorm:"column:content"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (checkpointRow) TableName() string { return "checkpoints" }

func (r checkpointRow) toCheckpoint() types.Checkpoint {
	return types.Checkpoint{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Content:    r.Content,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

type executionRow struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Flow       string    `gorm:"column:flow"`
	State      string    `gorm:"column:state"`
	Status     string    `gorm:"column:status"`
	DocumentID string    `gorm:"column:document_id"`
	Request    string    `gorm:"column:request"`
	Result     string    `gorm:"column:result"`
	ErrorCode  string    `gorm:"column:error_code"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (executionRow) TableName() string { return "workflow_executions" }
