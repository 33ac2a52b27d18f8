package service

import (
	"errors"

	"github.com/bitfantasy/salesync/internal/sales/repository"
	"github.com/bitfantasy/salesync/internal/shared/ledger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 错误定义（handler按此映射HTTP状态码）
var (
	// ErrValidation 入参非法
	ErrValidation = errors.New("validation failed")
	// ErrConflict 并发竞争失败或外部发票ID已被正式记录占用
	ErrConflict = errors.New("conflict")
	// ErrForbidden 操作者无权执行
	ErrForbidden = errors.New("forbidden")
)

// 具备财务操作权限的角色
var elevatedRoles = map[string]bool{
	"finance":     true,
	"sales_admin": true,
}

// SystemActorID 系统操作者（webhook/对账扫描）
const SystemActorID = "system"

// Actor 当次调用的操作者，由身份中间件注入
type Actor struct {
	ID     string
	Roles  []string
	System bool // 系统内部路径（webhook、定时扫描），不受角色门限约束
}

// SystemActor 系统操作者
func SystemActor() Actor {
	return Actor{ID: SystemActorID, System: true}
}

// IsElevated 是否为财务/管理员等提升权限角色
func (a Actor) IsElevated() bool {
	if a.System {
		return true
	}
	for _, r := range a.Roles {
		if elevatedRoles[r] {
			return true
		}
	}
	return false
}

// Services 服务集合
type Services struct {
	Sale      *SaleService
	Lifecycle *LifecycleService
	Claim     *ClaimService
	Reconcile *ReconcileService
	Incident  *IncidentService
}

// NewServices 创建服务集合
// 账务系统客户端与redis由进程入口显式构造后注入，服务内不做惰性单例
func NewServices(repos *repository.Repositories, client *ledger.Client, rdb *redis.Client, logger *zap.Logger) *Services {
	lifecycle := NewLifecycleService(repos.Sale, logger)
	reconcile := NewReconcileService(repos, client, lifecycle, rdb, logger)
	return &Services{
		Sale:      NewSaleService(repos, client, lifecycle, logger),
		Lifecycle: lifecycle,
		Claim:     NewClaimService(repos.Sale, repos.Buyer, logger),
		Reconcile: reconcile,
		Incident:  NewIncidentService(repos.Incident),
	}
}
