package common

import "github.com/unrolled/render"

var jRender = render.New(render.Options{
	Charset:       "UTF-8",
	IndentJSON:    true,
	StreamingJSON: true,
})

type QueryResult struct {
	Total int64       `json:"total"`
	Data  interface{} `json:"data"`
}

func Render() *render.Render {
	return jRender
}
