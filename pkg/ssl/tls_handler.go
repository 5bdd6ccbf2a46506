package ssl

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
)

// TlsHandler 把 HTTP 请求重定向到 HTTPS 入口。
// 小部件脚本嵌在第三方页面里，混合内容会被浏览器拦掉，所以全站强制 TLS。
func TlsHandler(host string, port int) gin.HandlerFunc {
	mw := secure.New(secure.Options{
		SSLRedirect: true,
		SSLHost:     host + ":" + strconv.Itoa(port),
	})
	return func(c *gin.Context) {
		// 出错时 Process 已经写了重定向响应，直接返回即可，
		// 不要再 c.Abort() 往响应里追加内容
		if err := mw.Process(c.Writer, c.Request); err != nil {
			return
		}
		c.Next()
	}
}
