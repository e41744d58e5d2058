package models

import (
	"sort"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
)

// Permission ключ права из закрытого словаря.
type Permission string

const (
	PermWarehouseCreate Permission = "warehouse.create"
	PermWarehouseView   Permission = "warehouse.view"
	PermWarehouseEdit   Permission = "warehouse.edit"
	PermWarehouseDelete Permission = "warehouse.delete"
	PermInventoryView   Permission = "inventory.view"
	PermInventoryEdit   Permission = "inventory.edit"
	PermOrderView       Permission = "order.view"
	PermOrderManage     Permission = "order.manage"
)

// PermissionInfo описание права для клиентов.
type PermissionInfo struct {
	Key         Permission `json:"key"`
	Description string     `json:"description"`
}

var vocabulary = []PermissionInfo{
	{Key: PermWarehouseCreate, Description: "Create warehouses"},
	{Key: PermWarehouseView, Description: "View warehouses"},
	{Key: PermWarehouseEdit, Description: "Edit warehouses"},
	{Key: PermWarehouseDelete, Description: "Delete warehouses"},
	{Key: PermInventoryView, Description: "View inventory"},
	{Key: PermInventoryEdit, Description: "Adjust inventory"},
	{Key: PermOrderView, Description: "View orders"},
	{Key: PermOrderManage, Description: "Create and manage orders"},
}

// Vocabulary возвращает копию словаря прав.
func Vocabulary() []PermissionInfo {
	out := make([]PermissionInfo, len(vocabulary))
	copy(out, vocabulary)
	return out
}

// IsKnownPermission проверяет ключ по словарю.
func IsKnownPermission(key string) bool {
	for _, p := range vocabulary {
		if string(p.Key) == key {
			return true
		}
	}
	return false
}

// NormalizePermissions проверяет все ключи до первого неизвестного и
// возвращает отсортированный набор без повторов. nil означает отсутствие
// списка и отклоняется, пустой срез допустим.
func NormalizePermissions(keys []string) ([]string, error) {
	if keys == nil {
		return nil, apperr.Validation("permissions list is required")
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !IsKnownPermission(k) {
			return nil, apperr.UnknownPermission(k)
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// PermissionGrant выданное право.
type PermissionGrant struct {
	SubscriberID string    `json:"subscriber_id"`
	MemberID     string    `json:"member_id"`
	Permission   string    `json:"permission"`
	CreatedAt    time.Time `json:"created_at"`
}

// MemberPermissions набор прав одного участника.
type MemberPermissions struct {
	MemberID    string   `json:"member_id"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}
