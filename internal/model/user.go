// Package model はドメインモデルを定義する。
package model

import "time"

// Profile はローカルに保持するユーザープロフィールを表す。
// SubjectIDはIdPが登録時に発行する不変の識別子で、profile.hash列に保存される。
type Profile struct {
	ID        string
	SubjectID string
	FirstName string
	LastName  string
	CreatedAt time.Time
}
