package xerr

// 知识库 / 对话链路的预定义错误。
// 哨兵错误配合 errors.Is 使用，HTTP 层通过 pkg/back 映射为统一响应。
var (
	ErrUnsupportedFormat    = New(BadRequest, "不支持的文件格式")
	ErrCorruptFile          = New(BadRequest, "文件已损坏或无法解析")
	ErrEmbeddingProvider    = New(BadGateway, "向量化服务调用失败")
	ErrGenerationProvider   = New(BadGateway, "生成模型调用失败")
	ErrStoreUnavailable     = New(InternalServerError, "向量存储不可用")
	ErrTimeout              = New(GatewayTimeout, "处理超时")
	ErrTenantIsolation      = New(InternalServerError, "系统错误，请联系工作人员")
	ErrConversationNotFound = New(NotFound, "会话不存在")
	ErrPromptInjection      = New(BadRequest, "消息包含不允许的指令内容")
	ErrChatbotNotFound      = New(NotFound, "机器人不存在")
	ErrSheetNotPublic       = New(BadRequest, "表格未公开，无法读取。请将共享设置改为\"知道链接的任何人可查看\"")
	ErrSheetURLInvalid      = New(BadRequest, "无效的 Google Sheets 链接")
)
