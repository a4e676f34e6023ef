// Package configdoc は設定ドキュメント（config.yml）の読み書きとメモ更新のドメインロジックを提供する。
//
// 更新はすべて「読み込み → テキスト上のパッチ → 全体の書き戻し」で行う。
// バージョン管理は行わず、同時に更新された場合は後勝ちになる。
package configdoc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/navgate/internal/model"
	"github.com/hitoshi/navgate/internal/repository"
	"github.com/hitoshi/navgate/internal/yamlpatch"
)

// Service は設定ドキュメントのサービス層。
type Service struct {
	repo      repository.ConfigRepository
	admins    model.AdminList
	anchorKey string
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// anchorKeyはglobalMemoブロックを新規に挿入する位置の目印となるトップレベルキー。
func NewService(repo repository.ConfigRepository, admins model.AdminList, anchorKey string) *Service {
	return &Service{
		repo:      repo,
		admins:    admins,
		anchorKey: anchorKey,
		now:       time.Now,
	}
}

// IsAdmin は識別情報が管理者かを返す。enterprise_emailを優先して判定する。
func (s *Service) IsAdmin(identity *model.Identity) bool {
	if identity == nil {
		return false
	}
	return s.admins.IsAdmin(identity.ResolvedEmail())
}

// Read は現在の設定ドキュメントを返す。
func (s *Service) Read(ctx context.Context) (string, error) {
	content, err := s.repo.Read(ctx)
	if err != nil {
		return "", model.NewUpstreamError("Failed to read configuration", err)
	}
	return content, nil
}

// Replace は設定ドキュメント全体を置き換える。管理者のみ実行できる。
func (s *Service) Replace(ctx context.Context, identity *model.Identity, content string) error {
	if !s.IsAdmin(identity) {
		return model.NewForbiddenError("Admin access required")
	}
	if content == "" {
		return model.NewInputInvalidError("Content is required")
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(content), &node); err != nil {
		return &model.AppError{Kind: model.KindInputInvalid, Message: "Invalid YAML: " + err.Error(), Err: err}
	}

	if err := s.write(ctx, content); err != nil {
		return err
	}

	slog.Info("config replaced",
		slog.String("editor", identity.ResolvedEmail()),
		slog.Int("bytes", len(content)),
	)
	return nil
}

// UpdateServiceMemo はidが一致するサービスのmemoを更新する。
// 該当するサービスがない場合はNotFoundエラーを返し、書き込みは行わない。
func (s *Service) UpdateServiceMemo(ctx context.Context, serviceID, memo string) error {
	if serviceID == "" {
		return model.NewInputInvalidError("serviceId is required")
	}

	current, err := s.readForUpdate(ctx)
	if err != nil {
		return err
	}

	patched, found := yamlpatch.UpsertServiceMemo(current, serviceID, memo)
	if !found {
		return model.NewNotFoundError("Service not found")
	}

	if err := s.write(ctx, patched); err != nil {
		return err
	}

	slog.Info("service memo updated", slog.String("service_id", serviceID))
	return nil
}

// UpdateGlobalMemo はglobalMemoブロックを更新する。
// 空文字列のcontentも有効な値として扱う。
func (s *Service) UpdateGlobalMemo(ctx context.Context, identity *model.Identity, content string) (*model.GlobalMemo, error) {
	if identity == nil {
		return nil, model.NewUnauthenticatedError("Not authenticated")
	}

	current, err := s.readForUpdate(ctx)
	if err != nil {
		return nil, err
	}

	memo := model.GlobalMemo{
		Content:   content,
		UpdatedAt: s.now().UTC(),
		UpdatedBy: identity.ResolvedEmail(),
	}

	if err := s.write(ctx, yamlpatch.UpsertGlobalMemo(current, memo, s.anchorKey)); err != nil {
		return nil, err
	}

	slog.Info("global memo updated", slog.String("editor", memo.UpdatedBy))
	return &memo, nil
}

// readForUpdate はパッチの元になるドキュメントを共有せずに読み込む。
func (s *Service) readForUpdate(ctx context.Context) (string, error) {
	content, err := s.repo.ReadFresh(ctx)
	if err != nil {
		return "", model.NewUpstreamError("Failed to read configuration", err)
	}
	return content, nil
}

func (s *Service) write(ctx context.Context, content string) error {
	if err := s.repo.Write(ctx, content); err != nil {
		return model.NewUpstreamError("Failed to save configuration", fmt.Errorf("write config: %w", err))
	}
	return nil
}
