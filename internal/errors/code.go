package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Caseprint Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，Caseprint 固定为 21
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   01: 合作方传输
//   02: 会话/鉴权
//   03: 合作方业务
//   04: 关联记录
//   05: 调用约束

// 合作方传输错误码 (210100-210199)
const (
	// ErrCodeTransport 网络/超时等传输错误（可重试）
	ErrCodeTransport = 210101
)

// 会话模块错误码 (210200-210299)
const (
	// ErrCodeAuthenticationFailed 账号或密码被拒绝（不自动重试）
	ErrCodeAuthenticationFailed = 210201
	// ErrCodeTokenExpired 重新登录后 token 仍被拒绝
	ErrCodeTokenExpired = 210202
)

// 合作方业务错误码 (210300-210399)
const (
	// ErrCodePartnerRejected 合作方返回非 200 业务码
	ErrCodePartnerRejected = 210301
)

// 关联记录错误码 (210400-210499)
const (
	// ErrCodeUnknownCorrelationID 关联ID不是本系统生成
	ErrCodeUnknownCorrelationID = 210401
	// ErrCodeRecordNotFound 本地记录不存在
	ErrCodeRecordNotFound = 210402
)

// 调用约束错误码 (210500-210599)
const (
	// ErrCodePreconditionViolation 调用前置条件不满足（编程错误）
	ErrCodePreconditionViolation = 210501
)

// 错误 reason
const (
	ReasonTransport             = "TRANSPORT_ERROR"
	ReasonAuthenticationFailed  = "AUTHENTICATION_FAILED"
	ReasonTokenExpired          = "TOKEN_EXPIRED"
	ReasonPartnerRejected       = "PARTNER_REJECTED"
	ReasonUnknownCorrelationID  = "UNKNOWN_CORRELATION_ID"
	ReasonRecordNotFound        = "RECORD_NOT_FOUND"
	ReasonPreconditionViolation = "PRECONDITION_VIOLATION"
)

// 错误 metadata key
const (
	MetadataBizCode       = "biz_code"
	MetadataCorrelationID = "correlation_id"
	MetadataPartnerCode   = "partner_code"
	MetadataPartnerMsg    = "partner_msg"
)

func newError(status, bizCode int, reason, correlationID, message string) *kerrors.Error {
	md := map[string]string{MetadataBizCode: strconv.Itoa(bizCode)}
	if correlationID != "" {
		md[MetadataCorrelationID] = correlationID
	}
	return kerrors.New(status, reason, message).WithMetadata(md)
}

// Transport 传输错误
func Transport(correlationID string, cause error) *kerrors.Error {
	msg := "partner transport error"
	if cause != nil {
		msg = fmt.Sprintf("partner transport error: %v", cause)
	}
	return newError(http.StatusBadGateway, ErrCodeTransport, ReasonTransport, correlationID, msg).WithCause(cause)
}

// AuthenticationFailed 登录凭证被合作方拒绝
func AuthenticationFailed(partnerCode int, partnerMsg string) *kerrors.Error {
	err := newError(http.StatusUnauthorized, ErrCodeAuthenticationFailed, ReasonAuthenticationFailed, "",
		fmt.Sprintf("partner rejected credentials: code=%d msg=%s", partnerCode, partnerMsg))
	err.Metadata[MetadataPartnerCode] = strconv.Itoa(partnerCode)
	err.Metadata[MetadataPartnerMsg] = partnerMsg
	return err
}

// TokenExpired 重新登录并重试一次后仍然 401
func TokenExpired(correlationID string) *kerrors.Error {
	return newError(http.StatusUnauthorized, ErrCodeTokenExpired, ReasonTokenExpired, correlationID,
		"partner token rejected after re-login")
}

// PartnerRejected 合作方业务拒绝，保留原始 code/msg
func PartnerRejected(correlationID string, partnerCode int, partnerMsg string) *kerrors.Error {
	err := newError(http.StatusUnprocessableEntity, ErrCodePartnerRejected, ReasonPartnerRejected, correlationID,
		fmt.Sprintf("partner rejected request: code=%d msg=%s", partnerCode, partnerMsg))
	err.Metadata[MetadataPartnerCode] = strconv.Itoa(partnerCode)
	err.Metadata[MetadataPartnerMsg] = partnerMsg
	return err
}

// UnknownCorrelationID 回调引用了本进程未生成的关联ID
func UnknownCorrelationID(correlationID string) *kerrors.Error {
	return newError(http.StatusNotFound, ErrCodeUnknownCorrelationID, ReasonUnknownCorrelationID, correlationID,
		"unknown correlation id")
}

// RecordNotFound 本地记录不存在
func RecordNotFound(correlationID string) *kerrors.Error {
	return newError(http.StatusNotFound, ErrCodeRecordNotFound, ReasonRecordNotFound, correlationID,
		"record not found")
}

// PreconditionViolation 调用方违反前置条件
func PreconditionViolation(correlationID, format string, args ...interface{}) *kerrors.Error {
	return newError(http.StatusPreconditionFailed, ErrCodePreconditionViolation, ReasonPreconditionViolation, correlationID,
		fmt.Sprintf(format, args...))
}

// WithCorrelation 为错误补充关联ID（已有则保留）
func WithCorrelation(err error, correlationID string) error {
	if err == nil || correlationID == "" {
		return err
	}
	se := new(kerrors.Error)
	if !errors.As(err, &se) {
		return Transport(correlationID, err)
	}
	if se.Metadata[MetadataCorrelationID] != "" {
		return err
	}
	md := make(map[string]string, len(se.Metadata)+1)
	for k, v := range se.Metadata {
		md[k] = v
	}
	md[MetadataCorrelationID] = correlationID
	return se.WithMetadata(md)
}

// CorrelationID 取出错误上的关联ID
func CorrelationID(err error) string {
	se := new(kerrors.Error)
	if errors.As(err, &se) {
		return se.Metadata[MetadataCorrelationID]
	}
	return ""
}

// PartnerCode 取出合作方原始业务码
func PartnerCode(err error) (int, bool) {
	se := new(kerrors.Error)
	if !errors.As(err, &se) {
		return 0, false
	}
	v, ok := se.Metadata[MetadataPartnerCode]
	if !ok {
		return 0, false
	}
	code, convErr := strconv.Atoi(v)
	if convErr != nil {
		return 0, false
	}
	return code, true
}

func IsTransport(err error) bool             { return kerrors.Reason(err) == ReasonTransport }
func IsAuthenticationFailed(err error) bool  { return kerrors.Reason(err) == ReasonAuthenticationFailed }
func IsTokenExpired(err error) bool          { return kerrors.Reason(err) == ReasonTokenExpired }
func IsPartnerRejected(err error) bool       { return kerrors.Reason(err) == ReasonPartnerRejected }
func IsUnknownCorrelationID(err error) bool  { return kerrors.Reason(err) == ReasonUnknownCorrelationID }
func IsPreconditionViolation(err error) bool { return kerrors.Reason(err) == ReasonPreconditionViolation }
func IsRecordNotFound(err error) bool        { return kerrors.Reason(err) == ReasonRecordNotFound }

// Diagnostic 生成写入记录的诊断信息：合作方拒绝为 "code/msg"，其余为错误原因
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	se := new(kerrors.Error)
	if !errors.As(err, &se) {
		return err.Error()
	}
	if code, ok := PartnerCode(err); ok {
		return fmt.Sprintf("%d/%s", code, se.Metadata[MetadataPartnerMsg])
	}
	return se.Reason + ": " + se.Message
}

// IsRetryable 传输错误总是可重试；业务拒绝仅在合作方码属于已知瞬时码时重试
func IsRetryable(err error, transientCodes map[int]bool) bool {
	if err == nil {
		return false
	}
	if IsTransport(err) {
		return true
	}
	if IsPartnerRejected(err) {
		code, ok := PartnerCode(err)
		return ok && transientCodes[code]
	}
	return false
}
